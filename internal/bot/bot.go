package bot

import (
	"context"
	"fmt"
	"log"

	"pixshop/internal/config"
	"pixshop/internal/infrastructure/market"
	"pixshop/internal/service"

	"github.com/bwmarrin/discordgo"
)

// Catalog 市场目录查询（列表页用）
type Catalog interface {
	ListValorantAccounts(ctx context.Context, filter market.ListFilter) ([]market.Account, error)
}

// Bot Discord 机器人
// 命令处理里不做任何资金逻辑，全部委托给 service 层，
// 这里只负责交互和文案
type Bot struct {
	session     *discordgo.Session
	cfg         *config.Config
	balanceSvc  *service.BalanceService
	purchaseSvc *service.PurchaseService
	catalog     Catalog

	registered []*discordgo.ApplicationCommand
	admins     map[string]bool
}

func New(
	cfg *config.Config,
	balanceSvc *service.BalanceService,
	purchaseSvc *service.PurchaseService,
	catalog Catalog,
) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("创建 Discord 会话失败: %w", err)
	}

	admins := make(map[string]bool, len(cfg.Discord.AdminIDs))
	for _, id := range cfg.Discord.AdminIDs {
		admins[id] = true
	}

	b := &Bot{
		session:     session,
		cfg:         cfg,
		balanceSvc:  balanceSvc,
		purchaseSvc: purchaseSvc,
		catalog:     catalog,
		admins:      admins,
	}

	session.AddHandler(b.onInteractionCreate)
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages

	return b, nil
}

// Start 连接网关并注册斜杠命令
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("连接 Discord 失败: %w", err)
	}

	for _, cmd := range commandDefinitions() {
		registered, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, b.cfg.Discord.GuildID, cmd)
		if err != nil {
			return fmt.Errorf("注册命令 %s 失败: %w", cmd.Name, err)
		}
		b.registered = append(b.registered, registered)
	}

	log.Printf("[BOT] Discord 机器人已上线: %s", b.session.State.User.Username)
	return nil
}

// Stop 注销命令并断开连接
func (b *Bot) Stop() {
	for _, cmd := range b.registered {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.cfg.Discord.GuildID, cmd.ID); err != nil {
			log.Printf("[BOT] 注销命令失败: %s err=%v", cmd.Name, err)
		}
	}
	if err := b.session.Close(); err != nil {
		log.Printf("[BOT] 关闭会话失败: %v", err)
	}
}

// Session 给通知器复用同一个会话
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

func (b *Bot) isAdmin(userID string) bool {
	return b.admins[userID]
}

func interactionUser(i *discordgo.InteractionCreate) (userID, username string) {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID, i.Member.User.Username
	}
	if i.User != nil {
		return i.User.ID, i.User.Username
	}
	return "", ""
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[BOT]【PANIC】交互处理异常: %v", r)
		}
	}()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(s, i)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(s, i)
	case discordgo.InteractionModalSubmit:
		b.handleModalSubmit(s, i)
	}
}
