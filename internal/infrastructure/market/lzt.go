package market

import (
	"context"
	"fmt"
	"log"
	"time"

	"pixshop/internal/config"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://prod-api.lzt.market"

// Account 市场在售账号
type Account struct {
	ItemID      int64   `json:"item_id"`
	Title       string  `json:"title"`
	PriceCents  int64   `json:"-"`
	Price       float64 `json:"price"`
	SoldAt      int64   `json:"account_last_activity"`
	ItemState   string  `json:"item_state"`
	Description string  `json:"description"`
}

// Credentials 购买成功后返回的账号凭据
type Credentials struct {
	Login         string   `json:"login"`
	Password      string   `json:"password"`
	Email         string   `json:"email"`
	EmailPassword string   `json:"email_password"`
	RecoveryCodes []string `json:"recovery_codes"`
}

// CheckResult 账号可购检查结果
type CheckResult struct {
	Available bool
	Message   string
}

// PurchaseResult 快速购买结果
type PurchaseResult struct {
	ItemID      int64
	Title       string
	Credentials Credentials
}

type listResponse struct {
	Items      []Account `json:"items"`
	TotalItems int       `json:"totalItems"`
	Page       int       `json:"page"`
	PerPage    int       `json:"perPage"`
}

type itemResponse struct {
	Item struct {
		ItemID    int64   `json:"item_id"`
		Title     string  `json:"title"`
		Price     float64 `json:"price"`
		ItemState string  `json:"item_state"`
	} `json:"item"`
}

type fastBuyResponse struct {
	Item struct {
		ItemID    int64  `json:"item_id"`
		Title     string `json:"title"`
		LoginData struct {
			Login    string `json:"login"`
			Password string `json:"password"`
			Raw      string `json:"raw"`
		} `json:"loginData"`
		EmailData struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		} `json:"emailLoginData"`
	} `json:"item"`
	Errors []string `json:"errors"`
}

// ListFilter Valorant 账号列表过滤条件
type ListFilter struct {
	PriceMinCents int64
	PriceMaxCents int64
	Title         string
	Page          int
	PerPage       int
	OrderBy       string
}

// LztClient LZT Market 客户端
// 平台限流 300 req/min，客户端侧用令牌桶兜底（最小间隔 200ms），
// 避免购买高峰期被封
type LztClient struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// NewLztClient 创建市场客户端
func NewLztClient(cfg *config.LztConfig) *LztClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		// 购买接口平台侧处理可能很慢，超时必须给足
		timeout = 5 * time.Minute
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(cfg.Token).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &LztClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

func (c *LztClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("lzt: 等待限流令牌失败: %w", err)
	}
	return nil
}

// ListValorantAccounts 按条件列出在售 Valorant 账号
func (c *LztClient) ListValorantAccounts(ctx context.Context, filter ListFilter) ([]Account, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req := c.client.R().SetContext(ctx)
	if filter.PriceMinCents > 0 {
		req.SetQueryParam("pmin", fmt.Sprintf("%d", filter.PriceMinCents/100))
	}
	if filter.PriceMaxCents > 0 {
		req.SetQueryParam("pmax", fmt.Sprintf("%d", filter.PriceMaxCents/100))
	}
	if filter.Title != "" {
		req.SetQueryParam("title", filter.Title)
	}
	if filter.Page > 0 {
		req.SetQueryParam("page", fmt.Sprintf("%d", filter.Page))
	}
	if filter.PerPage > 0 {
		req.SetQueryParam("perPage", fmt.Sprintf("%d", filter.PerPage))
	}
	if filter.OrderBy != "" {
		req.SetQueryParam("order_by", filter.OrderBy)
	}

	var listResp listResponse
	resp, err := req.SetResult(&listResp).Get("/riot")
	if err != nil {
		return nil, fmt.Errorf("lzt: 查询账号列表失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("lzt: 查询账号列表被拒绝（HTTP %d）", resp.StatusCode())
	}

	for i := range listResp.Items {
		listResp.Items[i].PriceCents = int64(listResp.Items[i].Price * 100)
	}
	return listResp.Items, nil
}

// GetAccountDetails 查询单个账号详情
func (c *LztClient) GetAccountDetails(ctx context.Context, itemID int64) (*Account, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var itemResp itemResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&itemResp).
		Get(fmt.Sprintf("/%d", itemID))
	if err != nil {
		return nil, fmt.Errorf("lzt: 查询账号详情失败: %w", err)
	}
	if resp.StatusCode() == 404 {
		return nil, fmt.Errorf("lzt: 账号 %d 不存在或已下架", itemID)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("lzt: 查询账号详情被拒绝（HTTP %d）", resp.StatusCode())
	}

	return &Account{
		ItemID:     itemResp.Item.ItemID,
		Title:      itemResp.Item.Title,
		Price:      itemResp.Item.Price,
		PriceCents: int64(itemResp.Item.Price * 100),
		ItemState:  itemResp.Item.ItemState,
	}, nil
}

// CheckAccount 购买前的可购性检查
// 扣款发生在这之前，所以检查失败要走退款路径，这里只负责报告
func (c *LztClient) CheckAccount(ctx context.Context, itemID int64) (*CheckResult, error) {
	account, err := c.GetAccountDetails(ctx, itemID)
	if err != nil {
		return &CheckResult{Available: false, Message: err.Error()}, nil
	}
	if account.ItemState != "" && account.ItemState != "active" {
		return &CheckResult{
			Available: false,
			Message:   fmt.Sprintf("账号状态为 %s，不可购买", account.ItemState),
		}, nil
	}
	return &CheckResult{Available: true}, nil
}

// FastBuy 快速购买（确认+支付一步完成）
// price 必须与页面展示价一致，平台用它做价格变动保护
func (c *LztClient) FastBuy(ctx context.Context, itemID int64, priceCents int64) (*PurchaseResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var buyResp fastBuyResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("price", fmt.Sprintf("%.2f", float64(priceCents)/100)).
		SetResult(&buyResp).
		SetError(&buyResp).
		Post(fmt.Sprintf("/%d/fast-buy", itemID))
	if err != nil {
		return nil, fmt.Errorf("lzt: 购买请求失败: %w", err)
	}
	if resp.IsError() || len(buyResp.Errors) > 0 {
		msg := ""
		if len(buyResp.Errors) > 0 {
			msg = buyResp.Errors[0]
		}
		return nil, fmt.Errorf("lzt: 购买被拒绝（HTTP %d）: %s", resp.StatusCode(), msg)
	}

	log.Printf("[LZT] 购买成功: item=%d title=%s", buyResp.Item.ItemID, buyResp.Item.Title)

	return &PurchaseResult{
		ItemID: buyResp.Item.ItemID,
		Title:  buyResp.Item.Title,
		Credentials: Credentials{
			Login:         buyResp.Item.LoginData.Login,
			Password:      buyResp.Item.LoginData.Password,
			Email:         buyResp.Item.EmailData.Email,
			EmailPassword: buyResp.Item.EmailData.Password,
		},
	}, nil
}
