package pixgateway

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ghostzx3/telegrupos-payments/internal/domain"
	"github.com/tidwall/gjson"
)

// Known spellings per field, in priority order. The provider changes these
// between endpoint versions; a field is taken from the first alias present.
var (
	idAliases = []string{
		"id", "transaction_id", "transactionId", "txid", "charge_id", "chargeId",
		"data.id", "data.transaction_id", "charge.id",
	}
	// Notifications may wrap the charge in an event envelope with its own
	// "id"; the transaction id must win over it.
	webhookIDAliases = []string{
		"transactionId", "transaction_id", "txid", "data.id", "data.transaction_id",
		"charge.id", "charge_id", "chargeId", "id",
	}
	pixCodeAliases = []string{
		"qr_code", "pix_code", "pixCode", "copy_paste", "copiaECola", "brcode", "emv",
		"pix.qr_code", "pix.copy_paste", "data.qr_code", "data.pix_code",
		"point_of_interaction.transaction_data.qr_code",
	}
	qrImageAliases = []string{
		"qr_code_base64", "qrCodeBase64", "qr_code_image", "qrCodeImage", "imagemQrcode",
		"pix.qr_code_base64", "data.qr_code_base64",
		"point_of_interaction.transaction_data.qr_code_base64",
	}
	expiresAliases = []string{
		"expires_at", "expiresAt", "expiration_date", "expirationDate", "expiration",
		"date_of_expiration", "pix.expires_at", "data.expires_at", "calendario.expiracao_em",
	}
	statusAliases = []string{
		"status", "payment_status", "paymentStatus", "state", "data.status", "charge.status",
	}
	paidAtAliases = []string{
		"paid_at", "paidAt", "date_approved", "payment_date", "data.paid_at", "pix.0.horario",
	}
	amountAliases = []string{
		"value", "amount", "transaction_amount", "data.value", "data.amount",
	}
	messageAliases = []string{
		"message", "error.message", "error", "errors.0.message", "errors.0", "detail", "description",
	}
)

var errUnrecognizedPayload = errors.New("unrecognized provider payload")

// normalizeCharge maps any known response shape onto domain.Charge. The charge id
// and the PIX payload are mandatory; everything else defaults to its zero value.
func normalizeCharge(body []byte) (*domain.Charge, error) {
	if !gjson.ValidBytes(body) {
		return nil, domain.NewUnavailableError("payment provider returned an unreadable charge", errUnrecognizedPayload)
	}
	id := firstString(body, idAliases)
	if id == "" {
		return nil, domain.NewUnavailableError("payment provider response has no charge id", errUnrecognizedPayload)
	}
	pixCode := firstString(body, pixCodeAliases)
	if pixCode == "" {
		return nil, domain.NewUnavailableError("payment provider response has no PIX code", errUnrecognizedPayload)
	}

	charge := &domain.Charge{
		ExternalID:  id,
		PixCode:     pixCode,
		QRCodeImage: firstString(body, qrImageAliases),
		Status:      domain.NormalizeStatus(firstString(body, statusAliases)),
		Amount:      firstInt(body, amountAliases),
		ExpiresAt:   firstTime(body, expiresAliases),
	}
	if paidAt := firstTime(body, paidAtAliases); !paidAt.IsZero() {
		charge.PaidAt = &paidAt
	}
	return charge, nil
}

// normalizeStatus requires a status field; the id falls back to the one asked for.
func normalizeStatus(body []byte, externalID string) (*domain.ChargeStatus, error) {
	if !gjson.ValidBytes(body) {
		return nil, domain.NewUnavailableError("payment provider returned an unreadable status", errUnrecognizedPayload)
	}
	raw := firstString(body, statusAliases)
	if raw == "" {
		return nil, domain.NewUnavailableError("payment provider response has no status", errUnrecognizedPayload)
	}
	id := firstString(body, idAliases)
	if id == "" {
		id = externalID
	}
	st := &domain.ChargeStatus{ExternalID: id, Status: domain.NormalizeStatus(raw)}
	if paidAt := firstTime(body, paidAtAliases); !paidAt.IsZero() {
		st.PaidAt = &paidAt
	}
	return st, nil
}

// ParseWebhook extracts a notification from any known webhook shape.
func ParseWebhook(body []byte) (domain.WebhookNotification, error) {
	if !gjson.ValidBytes(body) {
		return domain.WebhookNotification{}, domain.NewValidationError("webhook body is not valid JSON", nil)
	}
	raw := firstString(body, statusAliases)
	return domain.WebhookNotification{
		TransactionID:     firstString(body, webhookIDAliases),
		RawStatus:         raw,
		Status:            domain.NormalizeStatus(raw),
		Amount:            firstInt(body, amountAliases),
		ExternalReference: firstString(body, []string{"external_reference", "externalReference", "data.external_reference", "reference"}),
	}, nil
}

func providerMessage(body []byte) string {
	if msg := firstString(body, messageAliases); msg != "" {
		return msg
	}
	return "request rejected by payment provider"
}

func firstString(body []byte, paths []string) string {
	for _, r := range gjson.GetManyBytes(body, paths...) {
		if r.Type != gjson.String && r.Type != gjson.Number {
			continue
		}
		if s := strings.TrimSpace(r.String()); s != "" {
			return s
		}
	}
	return ""
}

func firstInt(body []byte, paths []string) int64 {
	for _, r := range gjson.GetManyBytes(body, paths...) {
		switch r.Type {
		case gjson.Number:
			return r.Int()
		case gjson.String:
			if n, err := strconv.ParseInt(strings.TrimSpace(r.Str), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func firstTime(body []byte, paths []string) time.Time {
	for _, r := range gjson.GetManyBytes(body, paths...) {
		switch r.Type {
		case gjson.Number:
			return unixTime(r.Int())
		case gjson.String:
			s := strings.TrimSpace(r.Str)
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return unixTime(n)
			}
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC()
				}
			}
		}
	}
	return time.Time{}
}

// unixTime accepts seconds or milliseconds.
func unixTime(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}
