// Package email provides email templates.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"os"
	"path/filepath"
	texttemplate "text/template"
	"time"
)

const (
	TemplateOrderConfirmation = "order_confirmation"
	TemplatePaymentFailed     = "payment_failed"
)

// OrderInfo contains all the information needed for order email templates
type OrderInfo struct {
	OrderNumber     string
	CustomerName    string
	CustomerEmail   string
	ShopName        string
	ShopURL         string
	OrderDate       time.Time
	Items           []OrderItem
	DeliveryAddress string
	DeliveryCharge  string
	Subtotal        string
	Total           string
	DeliveryTime    string
	ErrorMessage    string
	ErrorCode       string
}

// OrderItem represents a single item in an order
type OrderItem struct {
	Name       string
	Quantity   int64
	UnitPrice  string
	TotalPrice string
}

// EmailTemplate defines a named email template
type EmailTemplate struct {
	Subject string
	HTML    string
	Text    string
}

var builtinTemplates = map[string]EmailTemplate{
	TemplateOrderConfirmation: {
		Subject: "Order Confirmed - #{{.OrderNumber}} - {{.ShopName}}",
		HTML:    orderConfirmationHTML,
		Text:    orderConfirmationText,
	},
	TemplatePaymentFailed: {
		Subject: "Payment Failed - #{{.OrderNumber}} - {{.ShopName}}",
		HTML:    paymentFailedHTML,
		Text:    paymentFailedText,
	},
}

// Renderer renders the order emails. Templates are parsed once at construction.
type Renderer struct {
	subjects *texttemplate.Template
	text     *texttemplate.Template
	html     *htmltemplate.Template
}

// NewRenderer parses the built-in templates. When overrideDir is set, any
// <name>.html, <name>.txt or <name>.subject file found there replaces the
// corresponding built-in part.
func NewRenderer(overrideDir string) (*Renderer, error) {
	funcs := map[string]any{
		"formatDate": func(t time.Time) string {
			return t.Format("January 2, 2006")
		},
	}

	r := &Renderer{
		subjects: texttemplate.New("subjects").Funcs(funcs),
		text:     texttemplate.New("text").Funcs(funcs),
		html:     htmltemplate.New("html").Funcs(funcs),
	}

	for name, builtin := range builtinTemplates {
		tmpl, err := withOverrides(name, builtin, overrideDir)
		if err != nil {
			return nil, err
		}
		if _, err := r.subjects.New(name).Parse(tmpl.Subject); err != nil {
			return nil, fmt.Errorf("failed to parse subject template %s: %w", name, err)
		}
		if _, err := r.text.New(name).Parse(tmpl.Text); err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", name, err)
		}
		if _, err := r.html.New(name).Parse(tmpl.HTML); err != nil {
			return nil, fmt.Errorf("failed to parse HTML template %s: %w", name, err)
		}
	}

	return r, nil
}

func withOverrides(name string, tmpl EmailTemplate, dir string) (EmailTemplate, error) {
	if dir == "" {
		return tmpl, nil
	}

	parts := []struct {
		ext    string
		target *string
	}{
		{ext: ".subject", target: &tmpl.Subject},
		{ext: ".txt", target: &tmpl.Text},
		{ext: ".html", target: &tmpl.HTML},
	}
	for _, part := range parts {
		content, err := os.ReadFile(filepath.Join(dir, name+part.ext))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return tmpl, fmt.Errorf("failed to read template override %s%s: %w", name, part.ext, err)
		}
		*part.target = string(content)
	}
	return tmpl, nil
}

// Render renders an email template with the given data
func (r *Renderer) Render(_ context.Context, templateName string, data *OrderInfo) (*Email, error) {
	if data == nil {
		return nil, fmt.Errorf("order info is required")
	}
	if r.text.Lookup(templateName) == nil {
		return nil, fmt.Errorf("unknown email template %q", templateName)
	}

	var subjectBuf, textBuf, htmlBuf bytes.Buffer
	if err := r.subjects.ExecuteTemplate(&subjectBuf, templateName, data); err != nil {
		return nil, fmt.Errorf("failed to render subject template: %w", err)
	}
	if err := r.text.ExecuteTemplate(&textBuf, templateName, data); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}
	if err := r.html.ExecuteTemplate(&htmlBuf, templateName, data); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}

	return &Email{
		To:      data.CustomerEmail,
		Subject: subjectBuf.String(),
		Text:    textBuf.String(),
		HTML:    htmlBuf.String(),
		Tag:     templateName,
	}, nil
}

// Template text content - Order Confirmation
const orderConfirmationText = `Hi {{.CustomerName}},

Thank you for your order! Your payment was received.

Order Number: #{{.OrderNumber}}
Order Date: {{formatDate .OrderDate}}

Items:
{{range .Items}}- {{.Name}} x {{.Quantity}} = {{.TotalPrice}}
{{end}}
Subtotal: {{.Subtotal}}
Delivery Charges: {{.DeliveryCharge}}
Total: {{.Total}}

Delivering to:
{{.DeliveryAddress}}

Estimated delivery: {{.DeliveryTime}}

Thank you for ordering from {{.ShopName}}!
{{.ShopURL}}
`

// Template HTML content - Order Confirmation
const orderConfirmationHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Order Confirmation</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #c2410c; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #fff7ed; padding: 20px; border: 1px solid #fed7aa; }
    .order-info { background: white; padding: 15px; border-radius: 6px; margin: 15px 0; }
    .items-table { width: 100%; border-collapse: collapse; margin: 15px 0; }
    .items-table th { text-align: left; padding: 10px; background: #ffedd5; border-bottom: 2px solid #fed7aa; }
    .items-table td { padding: 10px; border-bottom: 1px solid #fed7aa; }
    .total { font-size: 18px; font-weight: bold; text-align: right; padding: 15px 0; }
    .footer { text-align: center; padding: 20px; color: #6b7280; font-size: 14px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Order Confirmed!</h1>
    <p>Thank you for your order, {{.CustomerName}}</p>
  </div>
  <div class="content">
    <div class="order-info">
      <strong>Order Number:</strong> #{{.OrderNumber}}<br>
      <strong>Order Date:</strong> {{formatDate .OrderDate}}<br>
      <strong>Estimated delivery:</strong> {{.DeliveryTime}}
    </div>

    <table class="items-table">
      <thead>
        <tr>
          <th>Item</th>
          <th>Qty</th>
          <th>Price</th>
        </tr>
      </thead>
      <tbody>
        {{range .Items}}
        <tr>
          <td>{{.Name}}</td>
          <td>{{.Quantity}}</td>
          <td>{{.TotalPrice}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>

    <div class="total">
      <p>Subtotal: {{.Subtotal}}</p>
      <p>Delivery Charges: {{.DeliveryCharge}}</p>
      <p>Total: {{.Total}}</p>
    </div>

    <p><strong>Delivering to:</strong><br>{{.DeliveryAddress}}</p>
  </div>
  <div class="footer">
    <p>Thank you for ordering from <a href="{{.ShopURL}}">{{.ShopName}}</a></p>
  </div>
</body>
</html>
`

const paymentFailedText = `Hi {{.CustomerName}},

We could not complete the payment for your order #{{.OrderNumber}}.
{{if .ErrorMessage}}
Reason: {{.ErrorMessage}}{{if .ErrorCode}} ({{.ErrorCode}}){{end}}
{{end}}
Order Total: {{.Total}}

You have not been charged. Please place your order again when you are ready.

{{.ShopName}}
{{.ShopURL}}
`

const paymentFailedHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Payment Failed</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #b91c1c; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #fef2f2; padding: 20px; border: 1px solid #fecaca; }
    .reason { background: white; padding: 15px; border-radius: 6px; margin: 15px 0; border-left: 4px solid #b91c1c; }
    .footer { text-align: center; padding: 20px; color: #6b7280; font-size: 14px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Payment Failed</h1>
    <p>Order #{{.OrderNumber}}</p>
  </div>
  <div class="content">
    <p>Hi {{.CustomerName}}, we could not complete the payment for your order.</p>
    {{if .ErrorMessage}}
    <div class="reason">
      <strong>Reason:</strong> {{.ErrorMessage}}{{if .ErrorCode}} <small>({{.ErrorCode}})</small>{{end}}
    </div>
    {{end}}
    <p><strong>Order Total:</strong> {{.Total}}</p>
    <p>You have not been charged. Please place your order again when you are ready.</p>
  </div>
  <div class="footer">
    <p><a href="{{.ShopURL}}">{{.ShopName}}</a></p>
  </div>
</body>
</html>
`
