package payment

import (
	"encoding/base64"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const (
	upiScheme = "upi://"

	// maxQRContent keeps codes scannable at the rendered size.
	maxQRContent = 1024
)

// appSchemes rewrites the generic upi:// prefix for wallet apps that register
// their own scheme.
var appSchemes = map[string]string{
	"gpay":    "tez://upi/",
	"phonepe": "phonepe://",
	"paytm":   "paytmmp://",
	"bhim":    "upi://",
}

// UPIInstructions is the UPI payload returned to donors.
type UPIInstructions struct {
	URL        string            `json:"url"`
	AppIntents map[string]string `json:"app_intents"`
	QRCode     string            `json:"qr_code,omitempty"`
	PayeeVPA   string            `json:"payee_vpa"`
	PayeeName  string            `json:"payee_name"`
	Amount     decimal.Decimal   `json:"amount"`
	Currency   string            `json:"currency"`
	Reference  string            `json:"reference"`
}

// BuildUPIURL formats a upi://pay deep link. The transaction reference is a
// tracking parameter only; anyone can build such a URL.
func (b *Builder) BuildUPIURL(amount decimal.Decimal, txnID, note string) string {
	params := [][2]string{
		{"pa", b.cfg.UPIID},
		{"pn", b.cfg.PayeeName},
	}
	if b.cfg.MerchantCode != "" {
		params = append(params, [2]string{"mc", b.cfg.MerchantCode})
	}
	params = append(params, [2]string{"tr", txnID})
	if note = strings.TrimSpace(note); note != "" {
		params = append(params, [2]string{"tn", note})
	}
	params = append(params,
		[2]string{"am", amount.StringFixed(2)},
		[2]string{"cu", b.cfg.Currency},
	)

	var sb strings.Builder
	sb.WriteString(upiScheme)
	sb.WriteString("pay?")
	for i, p := range params {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(p[0])
		sb.WriteByte('=')
		sb.WriteString(escape(p[1]))
	}
	return sb.String()
}

// escape percent-encodes v, using %20 for spaces since several UPI apps show
// a literal '+' otherwise.
func escape(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// AppIntents returns wallet-app specific variants of a upi:// link.
func AppIntents(upiURL string) map[string]string {
	out := make(map[string]string, len(appSchemes))
	if !strings.HasPrefix(upiURL, upiScheme) {
		return out
	}
	rest := strings.TrimPrefix(upiURL, upiScheme)
	for app, scheme := range appSchemes {
		out[app] = scheme + rest
	}
	return out
}

// AppNames lists the supported wallet apps in stable order.
func AppNames() []string {
	names := make([]string, 0, len(appSchemes))
	for app := range appSchemes {
		names = append(names, app)
	}
	sort.Strings(names)
	return names
}

// QRCode is an embeddable PNG of a payment link.
type QRCode struct {
	DataURI string `json:"data_uri"`
	URL     string `json:"url"`
}

// GenerateQRCode renders content as a PNG data URI.
func (b *Builder) GenerateQRCode(content string) (QRCode, error) {
	if content == "" || len(content) > maxQRContent {
		return QRCode{}, ErrEncoding
	}
	png, err := qrcode.Encode(content, qrcode.Medium, b.qrSize)
	if err != nil {
		return QRCode{}, ErrEncoding
	}
	return QRCode{
		DataURI: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		URL:     content,
	}, nil
}

// UPI assembles link, app intents and QR code for one payment.
func (b *Builder) UPI(amount decimal.Decimal, txnID, note string) (UPIInstructions, error) {
	link := b.BuildUPIURL(amount, txnID, note)
	qr, err := b.GenerateQRCode(link)
	if err != nil {
		return UPIInstructions{}, err
	}
	return UPIInstructions{
		URL:        link,
		AppIntents: AppIntents(link),
		QRCode:     qr.DataURI,
		PayeeVPA:   b.cfg.UPIID,
		PayeeName:  b.cfg.PayeeName,
		Amount:     amount,
		Currency:   b.cfg.Currency,
		Reference:  txnID,
	}, nil
}
