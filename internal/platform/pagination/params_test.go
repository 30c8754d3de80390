package pagination

import (
	"errors"
	"net/url"
	"reflect"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != DefaultPageSize || params.PageToken != "" || params.Statuses != nil {
		t.Fatalf("unexpected defaults %+v", params)
	}
}

func TestParsePageSize(t *testing.T) {
	opts := Options{DefaultPageSize: 25, MaxPageSize: 40}
	values := url.Values{}
	values.Set("pageSize", "30")

	params, err := Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != 30 {
		t.Fatalf("expected page size 30 got %d", params.PageSize)
	}

	values.Set("pageSize", "400")
	params, err = Parse(values, opts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageSize != opts.MaxPageSize {
		t.Fatalf("expected page size clamped to %d got %d", opts.MaxPageSize, params.PageSize)
	}
}

func TestParseInvalidPageSize(t *testing.T) {
	for _, raw := range []string{"abc", "0", "-3"} {
		values := url.Values{}
		values.Set("pageSize", raw)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageSize) {
			t.Fatalf("pageSize=%q: expected ErrInvalidPageSize got %v", raw, err)
		}
	}
}

func TestParseStatuses(t *testing.T) {
	values := url.Values{"status": {"paid,confirmed", " ready ", ""}}
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if want := []string{"paid", "confirmed", "ready"}; !reflect.DeepEqual(params.Statuses, want) {
		t.Fatalf("expected %v got %v", want, params.Statuses)
	}
}

func TestPageTokenRoundTrip(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2026, 10, 14, 8, 30, 0, 123, time.UTC), ID: "ord_9"}
	token := EncodeToken(cursor)

	values := url.Values{}
	values.Set("pageToken", token)
	params, err := Parse(values, Options{})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if params.PageToken != token {
		t.Fatalf("expected page token %q got %q", token, params.PageToken)
	}

	decoded, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !decoded.CreatedAt.Equal(cursor.CreatedAt) || decoded.ID != cursor.ID {
		t.Fatalf("unexpected cursor %+v", decoded)
	}
}

func TestParseInvalidPageToken(t *testing.T) {
	incomplete := EncodeToken(Cursor{ID: "ord_1"})
	for _, token := range []string{"!!!invalid!!!", "bm90LWpzb24", incomplete} {
		values := url.Values{}
		values.Set("pageToken", token)
		if _, err := Parse(values, Options{}); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("token %q: expected ErrInvalidPageToken got %v", token, err)
		}
	}
}
