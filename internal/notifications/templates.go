package notifications

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/sweet-shop/api/internal/domain"
)

// Message is a rendered notification ready for a transport.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

type statusCopy struct {
	Title   string
	Message string
}

var statusMessages = map[domain.OrderStatus]statusCopy{
	domain.OrderStatusPaid:       {"Payment Confirmed", "Your payment has been received and your order is being processed."},
	domain.OrderStatusConfirmed:  {"Order Confirmed", "Your order has been confirmed and will be prepared soon."},
	domain.OrderStatusPreparing:  {"Order Being Prepared", "Great news! We're now preparing your delicious desserts."},
	domain.OrderStatusReady:      {"Ready for Pickup", "Your order is ready! You can pick it up at the designated location."},
	domain.OrderStatusProcessing: {"Order Processing", "Your order is being processed for shipping."},
	domain.OrderStatusShipped:    {"Order Shipped", "Your order is on its way! It will arrive soon."},
	domain.OrderStatusDelivered:  {"Order Delivered", "Your order has been delivered. Enjoy your treats!"},
	domain.OrderStatusCompleted:  {"Order Completed", "Your order is complete. Thank you for shopping with us!"},
	domain.OrderStatusCancelled:  {"Order Cancelled", "Your order has been cancelled. If you have questions, please contact us."},
}

var defaultStatusCopy = statusCopy{"Order Update", "Your order status has been updated."}

func copyFor(status domain.OrderStatus) statusCopy {
	if c, ok := statusMessages[status]; ok {
		return c
	}
	return defaultStatusCopy
}

// ShortOrderID is the eight character reference shown to people.
func ShortOrderID(orderID string) string {
	id := strings.TrimPrefix(orderID, "ord_")
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}

type itemLine struct {
	Name     string
	Quantity int
	Price    string
}

type pickupLine struct {
	Name    string
	Address string
	Date    string
	Time    string
}

type messageData struct {
	Heading       string
	Lead          string
	ShortID       string
	CustomerName  string
	CustomerEmail string
	Payment       string
	Status        string
	CreatedAt     string
	Items         []itemLine
	Total         string
	Refund        string
	Pickup        *pickupLine
	Shipping      string
	Admin         bool
}

const orderEmailHTML = `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
<h1>{{.Heading}}</h1>
<p>{{.Lead}}</p>
<p><strong>Order ID:</strong> #{{.ShortID}}</p>
<p><strong>Date:</strong> {{.CreatedAt}}</p>
{{if .Admin}}<p><strong>Customer:</strong> {{.CustomerName}} &lt;{{.CustomerEmail}}&gt;</p>
<p><strong>Payment:</strong> {{.Payment}}</p>
<p><strong>Status:</strong> {{.Status}}</p>
{{end}}<table>
<tr><th>Item</th><th>Qty</th><th>Price</th></tr>
{{range .Items}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.Price}}</td></tr>
{{end}}</table>
<p><strong>Total:</strong> {{.Total}}</p>
{{if .Refund}}<p><strong>Refunded:</strong> {{.Refund}}</p>
{{end}}{{with .Pickup}}<h3>Pickup Details</h3>
<p><strong>Location:</strong> {{.Name}}</p>
{{if .Address}}<p><strong>Address:</strong> {{.Address}}</p>
{{end}}{{if .Date}}<p><strong>Date:</strong> {{.Date}}</p>
{{end}}{{if .Time}}<p><strong>Time:</strong> {{.Time}}</p>
{{end}}{{end}}{{if .Shipping}}<h3>Shipping Details</h3>
<p><strong>Address:</strong> {{.Shipping}}</p>
{{end}}</div>
`

// Renderer turns an order event into subject, HTML and plaintext bodies.
type Renderer struct {
	tmpl   *template.Template
	policy *bluemonday.Policy
}

// NewRenderer parses the built-in order email template.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.New("order").Parse(orderEmailHTML)
	if err != nil {
		return nil, fmt.Errorf("parse order email template: %w", err)
	}
	policy := bluemonday.StrictPolicy()
	policy.AddSpaceWhenStrippingTag(true)
	return &Renderer{tmpl: tmpl, policy: policy}, nil
}

// Render builds the message for audience and template. location may be nil.
func (r *Renderer) Render(audience Audience, tmpl Template, order domain.Order, extras Extras, location *domain.PickupLocation) (Message, error) {
	short := ShortOrderID(order.ID)
	total := domain.FormatMoney(order.Total, order.Currency)
	data := messageData{
		ShortID:       short,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		Payment:       string(order.PaymentMethod),
		Status:        string(order.Status),
		CreatedAt:     order.CreatedAt.Format("2006-01-02"),
		Total:         total,
		Admin:         audience == AudienceAdmins,
	}
	for _, item := range order.Items {
		name := item.ProductName
		if name == "" {
			name = item.ProductID
		}
		data.Items = append(data.Items, itemLine{
			Name:     name,
			Quantity: item.Quantity,
			Price:    domain.FormatMoney(item.UnitPrice, order.Currency),
		})
	}
	if pickup, ok := domain.PickupOf(order.Delivery); ok {
		line := &pickupLine{Name: pickup.LocationID, Date: pickup.Date, Time: pickup.Time}
		if location != nil {
			line.Name = location.Name
			line.Address = strings.Trim(strings.Join([]string{location.Address, location.City}, ", "), ", ")
		}
		data.Pickup = line
	} else if shipping, ok := domain.ShippingOf(order.Delivery); ok {
		data.Shipping = strings.Join([]string{shipping.Address, shipping.City, shipping.Zip}, ", ")
	}
	if extras.RefundAmount != nil {
		data.Refund = domain.FormatMoney(*extras.RefundAmount, order.Currency)
	}

	var subject string
	switch {
	case audience == AudienceAdmins && tmpl == TemplateOrderReceived:
		subject = fmt.Sprintf("New Order #%s - %s", short, total)
		data.Heading = "New Order Received"
		data.Lead = fmt.Sprintf("%s placed an order.", order.CustomerName)
	case audience == AudienceAdmins:
		c := copyFor(order.Status)
		subject = fmt.Sprintf("Order #%s: %s", short, c.Title)
		data.Heading = c.Title
	case tmpl == TemplateOrderReceived:
		subject = fmt.Sprintf("Order Confirmed! #%s", short)
		data.Heading = "Order Received!"
		data.Lead = fmt.Sprintf("Thank you for your order, %s!", order.CustomerName)
	case tmpl == TemplateCancellation:
		c := copyFor(domain.OrderStatusCancelled)
		subject = fmt.Sprintf("%s - #%s", c.Title, short)
		data.Heading = c.Title
		data.Lead = c.Message
		if data.Refund != "" {
			data.Lead += fmt.Sprintf(" A refund of %s has been issued to your original payment method.", data.Refund)
		}
	case tmpl == TemplateStatusUpdate:
		c := copyFor(order.Status)
		subject = fmt.Sprintf("Order Update: %s - #%s", c.Title, short)
		data.Heading = c.Title
		data.Lead = c.Message
	default:
		return Message{}, fmt.Errorf("notifications: unknown template %q", tmpl)
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", tmpl, err)
	}
	htmlBody := buf.String()
	return Message{Subject: subject, HTML: htmlBody, Text: r.plaintext(htmlBody)}, nil
}

// plaintext strips markup, collapses spacing and drops blank lines.
func (r *Renderer) plaintext(body string) string {
	stripped := html.UnescapeString(r.policy.Sanitize(body))
	lines := strings.Split(stripped, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
