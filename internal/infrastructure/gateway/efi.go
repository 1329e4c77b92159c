package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"sync"
	"time"

	"pixshop/internal/config"

	"github.com/go-resty/resty/v2"
)

const (
	productionBaseURL = "https://pix.api.efipay.com.br"
	sandboxBaseURL    = "https://pix-h.api.efipay.com.br"
)

// Charge 网关侧创建的 PIX 计费
type Charge struct {
	Txid       string
	LocationID int64
	Status     string
	PixKey     string
}

// QRCode 计费对应的支付载荷
type QRCode struct {
	Qrcode   string // 复制粘贴码
	ImageURL string // 二维码图片（base64 data URI）
}

type chargeRequest struct {
	Calendario struct {
		Expiracao int `json:"expiracao"`
	} `json:"calendario"`
	Valor struct {
		Original string `json:"original"`
	} `json:"valor"`
	Chave              string `json:"chave"`
	SolicitacaoPagador string `json:"solicitacaoPagador,omitempty"`
}

type chargeResponse struct {
	Txid string `json:"txid"`
	Loc  struct {
		ID int64 `json:"id"`
	} `json:"loc"`
	Status string `json:"status"`
	Chave  string `json:"chave"`
}

type qrcodeResponse struct {
	Qrcode       string `json:"qrcode"`
	ImagemQrcode string `json:"imagemQrcode"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type efiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Nome             string `json:"nome"`
	Mensagem         string `json:"mensagem"`
}

// EfiClient Efí PIX 网关客户端
// 认证分两层：mTLS 证书（传输层）+ OAuth client_credentials（应用层）。
// token 带过期时间缓存，过期前 60 秒刷新
type EfiClient struct {
	client  *resty.Client
	cfg     *config.EfiConfig
	baseURL string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewEfiClient 创建网关客户端
// 配置错误在这里就报出来，并带上排查提示——凭证/证书和环境
// （sandbox vs 生产）不匹配是最常见的故障
func NewEfiClient(cfg *config.EfiConfig) (*EfiClient, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("efi: client_id 和 client_secret 必须配置")
	}
	if cfg.PixKey == "" {
		return nil, fmt.Errorf("efi: pix_key 未配置，无法创建计费")
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("efi: 加载 mTLS 证书失败（cert=%s key=%s）: %w；"+
			"确认已把 .p12 导出成 PEM 对，且证书环境与 sandbox=%v 一致",
			cfg.CertFile, cfg.KeyFile, err, cfg.Sandbox)
	}

	baseURL := productionBaseURL
	if cfg.Sandbox {
		baseURL = sandboxBaseURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetTLSClientConfig(&tls.Config{Certificates: []tls.Certificate{cert}})

	log.Printf("[EFI] 客户端初始化完成: env=%s", map[bool]string{true: "sandbox", false: "production"}[cfg.Sandbox])

	return &EfiClient{
		client:  client,
		cfg:     cfg,
		baseURL: baseURL,
	}, nil
}

func (c *EfiClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var tokenResp tokenResponse
	var apiErr efiError
	resp, err := c.client.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret).
		SetBody(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&tokenResp).
		SetError(&apiErr).
		Post("/oauth/token")
	if err != nil {
		return "", fmt.Errorf("efi: 获取 OAuth token 失败: %w", err)
	}
	if resp.IsError() {
		if apiErr.Error == "invalid_client" {
			return "", fmt.Errorf("efi: 凭证无效或未激活（HTTP %d）；"+
				"检查 client_id/client_secret 是否正确、是否与 sandbox=%v 环境匹配",
				resp.StatusCode(), c.cfg.Sandbox)
		}
		return "", fmt.Errorf("efi: OAuth 认证失败（HTTP %d）: %s", resp.StatusCode(), apiErr.ErrorDescription)
	}

	c.token = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

// CreateCharge 创建即时计费（PUT /v2/cob/{txid}，txid 由我方生成）
// 计费有效期固定 1 小时，与过期扫描的充值窗口一致
func (c *EfiClient) CreateCharge(ctx context.Context, txid string, amountCents int64, payerRequest string) (*Charge, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	body := chargeRequest{Chave: c.cfg.PixKey, SolicitacaoPagador: payerRequest}
	body.Calendario.Expiracao = 3600
	body.Valor.Original = fmt.Sprintf("%d.%02d", amountCents/100, amountCents%100)

	var chargeResp chargeResponse
	var apiErr efiError
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(&body).
		SetResult(&chargeResp).
		SetError(&apiErr).
		Put("/v2/cob/" + txid)
	if err != nil {
		return nil, fmt.Errorf("efi: 创建计费失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("efi: 创建计费被拒绝（HTTP %d）: %s %s", resp.StatusCode(), apiErr.Nome, apiErr.Mensagem)
	}

	log.Printf("[EFI] 计费已创建: txid=%s location=%d", chargeResp.Txid, chargeResp.Loc.ID)

	pixKey := chargeResp.Chave
	if pixKey == "" {
		pixKey = c.cfg.PixKey
	}

	return &Charge{
		Txid:       chargeResp.Txid,
		LocationID: chargeResp.Loc.ID,
		Status:     chargeResp.Status,
		PixKey:     pixKey,
	}, nil
}

// GenerateQRCode 由计费的 location 生成支付载荷（GET /v2/loc/{id}/qrcode）
func (c *EfiClient) GenerateQRCode(ctx context.Context, locationID int64) (*QRCode, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	var qrResp qrcodeResponse
	var apiErr efiError
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&qrResp).
		SetError(&apiErr).
		Get(fmt.Sprintf("/v2/loc/%d/qrcode", locationID))
	if err != nil {
		return nil, fmt.Errorf("efi: 生成二维码失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("efi: 生成二维码被拒绝（HTTP %d）: %s %s", resp.StatusCode(), apiErr.Nome, apiErr.Mensagem)
	}

	return &QRCode{
		Qrcode:   qrResp.Qrcode,
		ImageURL: qrResp.ImagemQrcode,
	}, nil
}

// GetCharge 按 txid 查询计费
func (c *EfiClient) GetCharge(ctx context.Context, txid string) (*Charge, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	var chargeResp chargeResponse
	var apiErr efiError
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&chargeResp).
		SetError(&apiErr).
		Get("/v2/cob/" + txid)
	if err != nil {
		return nil, fmt.Errorf("efi: 查询计费失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("efi: 查询计费被拒绝（HTTP %d）: %s %s", resp.StatusCode(), apiErr.Nome, apiErr.Mensagem)
	}

	return &Charge{
		Txid:       chargeResp.Txid,
		LocationID: chargeResp.Loc.ID,
		Status:     chargeResp.Status,
		PixKey:     chargeResp.Chave,
	}, nil
}

// RegisterWebhook 向网关登记回调地址（PUT /v2/webhook/{chave}）
// 网关登记前会先 GET 一次回调地址做连通性验证，所以 webhook
// 服务必须先起来再调这个
func (c *EfiClient) RegisterWebhook(ctx context.Context, webhookURL string) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	var apiErr efiError
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]string{"webhookUrl": webhookURL}).
		SetError(&apiErr).
		Put("/v2/webhook/" + c.cfg.PixKey)
	if err != nil {
		return fmt.Errorf("efi: 登记 webhook 失败: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("efi: 登记 webhook 被拒绝（HTTP %d）: %s %s", resp.StatusCode(), apiErr.Nome, apiErr.Mensagem)
	}

	log.Printf("[EFI] webhook 已登记: %s", webhookURL)
	return nil
}
