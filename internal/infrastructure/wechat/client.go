package wechat

import (
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"checkout-backend/internal/domain"
)

const (
	tradeStateSuccess = "SUCCESS"

	EventTransactionSuccess = "TRANSACTION.SUCCESS"
)

type PayConfig struct {
	AppID        string
	MchID        string
	MchSerial    string
	PrivateKey   string
	APIv3Key     string
	PlatformCert string
	BaseURL      string
	HTTP         *http.Client
}

type PayClient struct {
	AppID          string
	MchID          string
	MchSerial      string
	PrivateKey     *rsa.PrivateKey
	APIv3Key       string
	PlatformCert   *x509.Certificate
	PlatformSerial string
	BaseURL        string
	HTTP           *http.Client
}

// NewPayClient parses the merchant key and platform certificate. Both may be
// given inline as PEM or as a file path.
func NewPayClient(cfg PayConfig) (*PayClient, error) {
	if strings.TrimSpace(cfg.MchID) == "" || strings.TrimSpace(cfg.MchSerial) == "" || strings.TrimSpace(cfg.PrivateKey) == "" || strings.TrimSpace(cfg.APIv3Key) == "" || strings.TrimSpace(cfg.PlatformCert) == "" {
		return nil, fmt.Errorf("wechat pay config incomplete")
	}
	pemKey, err := loadPEM(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	priv, err := parsePrivateKey(pemKey)
	if err != nil {
		return nil, err
	}
	pemCert, err := loadPEM(cfg.PlatformCert)
	if err != nil {
		return nil, err
	}
	cert, err := parseCert(pemCert)
	if err != nil {
		return nil, err
	}
	return &PayClient{
		AppID:          cfg.AppID,
		MchID:          cfg.MchID,
		MchSerial:      cfg.MchSerial,
		PrivateKey:     priv,
		APIv3Key:       cfg.APIv3Key,
		PlatformCert:   cert,
		PlatformSerial: strings.ToUpper(cert.SerialNumber.Text(16)),
		BaseURL:        cfg.BaseURL,
		HTTP:           cfg.HTTP,
	}, nil
}

// Transaction is the subset of a v3 transaction the checkout cares about.
type Transaction struct {
	AppID         string `json:"appid"`
	MchID         string `json:"mchid"`
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	Amount        struct {
		Total         int64  `json:"total"`
		PayerTotal    int64  `json:"payer_total"`
		Currency      string `json:"currency"`
		PayerCurrency string `json:"payer_currency"`
	} `json:"amount"`
}

func (t *Transaction) Snapshot() *domain.PaymentSnapshot {
	cur := t.Amount.Currency
	if cur == "" {
		cur = "CNY"
	}
	return &domain.PaymentSnapshot{
		Provider:    domain.ProviderWechat,
		ID:          t.TransactionID,
		Status:      t.TradeState,
		Succeeded:   t.TradeState == tradeStateSuccess,
		AmountMinor: t.Amount.Total,
		Currency:    strings.ToUpper(cur),
		Reference:   t.OutTradeNo,
	}
}

// FetchPayment queries a transaction by WeChat transaction id.
func (c *PayClient) FetchPayment(ctx context.Context, paymentID string) (*domain.PaymentSnapshot, error) {
	tx, err := c.QueryTransaction(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return tx.Snapshot(), nil
}

func (c *PayClient) QueryTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	if strings.TrimSpace(transactionID) == "" {
		return nil, fmt.Errorf("transaction id required")
	}
	u := c.base() + "/v3/pay/transactions/id/" + url.PathEscape(transactionID) + "?mchid=" + url.QueryEscape(c.MchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	auth, err := c.buildAuthorization(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", auth)
	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read transaction: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("wechat pay error %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), domain.ErrPaymentNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("wechat pay error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out Transaction
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifySignature checks a callback against the platform certificate. The
// signed message is timestamp, nonce and raw body, each newline-terminated.
func (c *PayClient) VerifySignature(h NotifyHeaders, body []byte) error {
	if h.Timestamp == "" || h.Nonce == "" || h.Signature == "" {
		return errors.New("signature headers required")
	}
	if c.PlatformCert == nil {
		return errors.New("platform cert missing")
	}
	if h.Serial != "" && !strings.EqualFold(h.Serial, c.PlatformSerial) {
		return fmt.Errorf("unknown platform serial %s", h.Serial)
	}
	pub, ok := c.PlatformCert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("platform cert is not rsa")
	}
	sig, err := base64.StdEncoding.DecodeString(h.Signature)
	if err != nil {
		return fmt.Errorf("signature encoding: %w", err)
	}
	digest := sha256.Sum256(fmt.Appendf(nil, "%s\n%s\n%s\n", h.Timestamp, h.Nonce, body))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig)
}

type NotifyResource struct {
	Algorithm      string `json:"algorithm"`
	Ciphertext     string `json:"ciphertext"`
	Nonce          string `json:"nonce"`
	AssociatedData string `json:"associated_data"`
}

type Notification struct {
	ID           string         `json:"id"`
	EventType    string         `json:"event_type"`
	ResourceType string         `json:"resource_type"`
	Resource     NotifyResource `json:"resource"`
}

// NotifyHeaders carries the Wechatpay-* headers of a callback.
type NotifyHeaders struct {
	Timestamp string
	Nonce     string
	Signature string
	Serial    string
}

// ParseNotification verifies a payment callback and decrypts its
// transaction. Non-success events return a nil transaction.
func (c *PayClient) ParseNotification(h NotifyHeaders, body []byte) (*Notification, *Transaction, error) {
	if err := c.VerifySignature(h, body); err != nil {
		return nil, nil, fmt.Errorf("verify notification: %w", err)
	}
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, nil, fmt.Errorf("decode notification: %w", err)
	}
	if n.EventType != EventTransactionSuccess {
		return &n, nil, nil
	}
	plain, err := c.DecryptResource(n.Resource)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt notification: %w", err)
	}
	var tx Transaction
	if err := json.Unmarshal(plain, &tx); err != nil {
		return nil, nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &n, &tx, nil
}

func (c *PayClient) DecryptResource(resource NotifyResource) ([]byte, error) {
	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}
	nonce := []byte(resource.Nonce)
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("nonce length invalid")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(resource.Ciphertext)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, []byte(resource.AssociatedData))
}

func (c *PayClient) gcm() (cipher.AEAD, error) {
	key := []byte(c.APIv3Key)
	if len(key) != 32 {
		return nil, fmt.Errorf("api v3 key length invalid")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (c *PayClient) buildAuthorization(method, rawURL string, body []byte) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := randomString(32)
	message := method + "\n" + u.RequestURI() + "\n" + timestamp + "\n" + nonce + "\n" + string(body) + "\n"
	signature, err := c.sign(message)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`WECHATPAY2-SHA256-RSA2048 mchid="%s",nonce_str="%s",timestamp="%s",serial_no="%s",signature="%s"`,
		c.MchID, nonce, timestamp, c.MchSerial, signature), nil
}

func (c *PayClient) sign(message string) (string, error) {
	h := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.PrivateKey, crypto.SHA256, h[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (c *PayClient) base() string {
	if b := strings.TrimRight(c.BaseURL, "/"); b != "" {
		return b
	}
	return "https://api.mch.weixin.qq.com"
}

func loadPEM(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("empty pem")
	}
	if strings.Contains(v, "BEGIN") {
		return []byte(v), nil
	}
	return os.ReadFile(v)
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("invalid private key")
	}
	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if k, ok := key.(*rsa.PrivateKey); ok {
			return k, nil
		}
		return nil, fmt.Errorf("private key type invalid")
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	return nil, fmt.Errorf("unsupported private key")
}

func parseCert(pemBytes []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("invalid cert")
	}
	return x509.ParseCertificate(block.Bytes)
}

func randomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	const letters = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b)
}
