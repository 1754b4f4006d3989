package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/openresident/cardservice/internal/config"
)

// Gateway parameter names shared with the payment provider.
const (
	paramVersion    = "vnp_Version"
	paramCommand    = "vnp_Command"
	paramTmnCode    = "vnp_TmnCode"
	paramAmount     = "vnp_Amount"
	paramCurrCode   = "vnp_CurrCode"
	paramTxnRef     = "vnp_TxnRef"
	paramOrderInfo  = "vnp_OrderInfo"
	paramOrderType  = "vnp_OrderType"
	paramLocale     = "vnp_Locale"
	paramReturnURL  = "vnp_ReturnUrl"
	paramIPAddr     = "vnp_IpAddr"
	paramCreateDate = "vnp_CreateDate"
	paramSecureHash = "vnp_SecureHash"
	paramHashType   = "vnp_SecureHashType"
	paramRespCode   = "vnp_ResponseCode"
	paramTxnStatus  = "vnp_TransactionStatus"

	// ResponseCodeSuccess is the gateway's success code.
	ResponseCodeSuccess = "00"
)

// ErrGatewayNotConfigured indicates missing gateway credentials.
var ErrGatewayNotConfigured = errors.New("payment: gateway not configured")

// Gateway signs payment URLs and verifies return callbacks for a
// VNPAY-compatible provider.
type Gateway struct {
	cfg config.GatewayConfig
}

// NewGateway constructs a payment gateway client.
func NewGateway(cfg config.GatewayConfig) *Gateway {
	return &Gateway{cfg: cfg}
}

// Name returns the gateway identifier recorded on registrations.
func (g *Gateway) Name() string {
	if g == nil {
		return ""
	}
	return g.cfg.Name
}

// IsGatewayURL reports whether u points at the configured checkout endpoint.
func (g *Gateway) IsGatewayURL(u string) bool {
	if g == nil || strings.TrimSpace(g.cfg.PayURL) == "" {
		return false
	}
	return strings.HasPrefix(u, g.cfg.PayURL)
}

// CreatePaymentURL builds a signed checkout URL. The returned transaction
// reference is "<orderID>_<millis>" so the order can be recovered from the
// callback even after a process restart.
func (g *Gateway) CreatePaymentURL(orderID string, amount float64, orderInfo, clientIP string) (string, string, error) {
	if g == nil {
		return "", "", ErrGatewayNotConfigured
	}
	if strings.TrimSpace(g.cfg.TmnCode) == "" || strings.TrimSpace(g.cfg.HashSecret) == "" || strings.TrimSpace(g.cfg.PayURL) == "" {
		return "", "", ErrGatewayNotConfigured
	}
	if strings.TrimSpace(orderID) == "" {
		return "", "", errors.New("payment: order id is required")
	}
	if amount <= 0 {
		return "", "", errors.New("payment: amount must be greater than zero")
	}

	now := time.Now()
	txnRef := fmt.Sprintf("%s_%d", orderID, now.UnixMilli())
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	params := map[string]string{
		paramVersion:    g.cfg.Version,
		paramCommand:    "pay",
		paramTmnCode:    g.cfg.TmnCode,
		paramAmount:     fmt.Sprintf("%d", int64(amount*100)),
		paramCurrCode:   "VND",
		paramTxnRef:     txnRef,
		paramOrderInfo:  orderInfo,
		paramOrderType:  "other",
		paramLocale:     "vn",
		paramReturnURL:  g.cfg.ReturnURL,
		paramIPAddr:     clientIP,
		paramCreateDate: now.Format("20060102150405"),
	}

	hashData, query := encodeParams(params)
	signature := g.sign(hashData)
	payURL := g.cfg.PayURL + "?" + query + "&" + paramSecureHash + "=" + signature
	return payURL, txnRef, nil
}

// ValidateReturn verifies the callback signature and reports whether the
// gateway confirmed the payment. The signature check and the response code
// are separate so callers can distinguish tampering from a declined payment.
func (g *Gateway) ValidateReturn(params map[string]string) (signatureOK bool, responseCode string) {
	if g == nil || len(params) == 0 {
		return false, ""
	}

	received := params[paramSecureHash]
	responseCode = params[paramRespCode]
	if received == "" {
		return false, responseCode
	}

	filtered := make(map[string]string, len(params))
	for key, value := range params {
		if key == paramSecureHash || key == paramHashType {
			continue
		}
		filtered[key] = value
	}

	hashData, _ := encodeParams(filtered)
	expected := g.sign(hashData)
	return strings.EqualFold(expected, received), responseCode
}

// TransactionStatus extracts the gateway transaction status parameter.
func TransactionStatus(params map[string]string) string {
	return params[paramTxnStatus]
}

// TransactionRef extracts the transaction reference parameter.
func TransactionRef(params map[string]string) string {
	return params[paramTxnRef]
}

// ParseOrderID splits "<orderID>_<suffix>" and returns the order ID part.
func ParseOrderID(txnRef string) (string, bool) {
	trimmed := strings.TrimSpace(txnRef)
	idx := strings.LastIndex(trimmed, "_")
	if idx <= 0 {
		return "", false
	}
	return trimmed[:idx], true
}

// encodeParams sorts parameters by name and returns the hash payload and the
// URL query string. Values are URL-encoded in both per the provider contract.
func encodeParams(params map[string]string) (string, string) {
	keys := make([]string, 0, len(params))
	for key, value := range params {
		if key == "" || value == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+url.QueryEscape(params[key]))
	}
	joined := strings.Join(parts, "&")
	return joined, joined
}

func (g *Gateway) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(g.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
