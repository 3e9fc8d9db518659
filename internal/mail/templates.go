package mail

import (
	"bytes"
	"html/template"
)

// CardLine is one card listed in a receipt.
type CardLine struct {
	CardNo   string
	Password string
	Product  string
}

var (
	verifyTmpl = template.Must(template.New("verify").Parse(
		`<p>Welcome to Watchlist Pro.</p><p>Confirm your email address: <a href="{{.Link}}">{{.Link}}</a></p>`))
	resetTmpl = template.Must(template.New("reset").Parse(
		`<p>A password reset was requested for your account.</p><p><a href="{{.Link}}">Reset your password</a>. The link expires in {{.TTL}}.</p><p>If you did not ask for this, ignore this email.</p>`))
	receiptTmpl = template.Must(template.New("receipt").Parse(
		`<p>Thank you for your purchase (order {{.OrderID}}).</p>
{{if .Cards}}<table><tr><th>Product</th><th>Card</th><th>Password</th></tr>{{range .Cards}}<tr><td>{{.Product}}</td><td>{{.CardNo}}</td><td>{{.Password}}</td></tr>{{end}}</table>{{end}}
{{if .Owed}}<p>{{.Owed}} card(s) are back-ordered and will be delivered when stock arrives.</p>{{end}}`))
)

// VerifyEmail renders the email verification message.
func VerifyEmail(to, link string) (Message, error) {
	body, err := render(verifyTmpl, map[string]any{"Link": link})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Verify your email", HTMLBody: body}, nil
}

// ResetPassword renders the password reset message.
func ResetPassword(to, link, ttl string) (Message, error) {
	body, err := render(resetTmpl, map[string]any{"Link": link, "TTL": ttl})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Reset your password", HTMLBody: body}, nil
}

// PurchaseReceipt renders the buyer receipt with the allocated cards.
func PurchaseReceipt(to, orderID string, cards []CardLine, owed int) (Message, error) {
	body, err := render(receiptTmpl, map[string]any{"OrderID": orderID, "Cards": cards, "Owed": owed})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Your Watchlist Pro cards", HTMLBody: body}, nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
