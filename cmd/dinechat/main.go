package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"dinechat/internal/app"
	"dinechat/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

type runtimeDeps struct {
	cfg      app.Config
	log      *app.Logger
	gateway  *app.Gateway
	resolver *app.Resolver
	logFile  *os.File
}

func buildDeps(configPath string) (*runtimeDeps, error) {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.StorageDir, 0755); err != nil {
		return nil, err
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.StorageDir, "dinechat.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	log := app.NewLogger(logFile)

	resolver := &app.Resolver{
		Auth:    app.StaticAuth{Code: cfg.LoginCode},
		Store:   app.NewCredentialStore(cfg.StorageDir),
		Locator: app.StaticLocation{Loc: cfg.Location()},
		Log:     log,
	}
	gateway := app.NewGateway(cfg.BaseURL, cfg.Timeout(), resolver.Token, log)
	resolver.Gateway = gateway

	return &runtimeDeps{cfg: cfg, log: log, gateway: gateway, resolver: resolver, logFile: logFile}, nil
}

func (d *runtimeDeps) close() {
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *runtimeDeps) identity(ctx context.Context) (app.Identity, error) {
	id, err := d.resolver.EnsureIdentity(ctx)
	if err != nil {
		return app.Identity{}, fmt.Errorf("login failed: %w", err)
	}
	return id, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withDeps wraps a command body with the shared setup: config load, login,
// signal-aware context and teardown.
func withDeps(configPath *string, run func(ctx context.Context, deps *runtimeDeps, id app.Identity, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps(*configPath)
		if err != nil {
			return err
		}
		defer deps.close()
		ctx, cancel := signalContext()
		defer cancel()

		id, err := deps.identity(ctx)
		if err != nil {
			return err
		}
		return run(ctx, deps, id, args)
	}
}

func runChat(deps *runtimeDeps, shareID string) error {
	ctx, cancel := signalContext()
	defer cancel()

	id, err := deps.identity(ctx)
	if err != nil {
		return err
	}

	persona := &app.PersonaService{Gateway: deps.gateway, Identity: id, Log: deps.log}
	aiName := "AI 助手"
	if settings, err := persona.Load(ctx); err == nil {
		aiName = settings.Name
	}

	// Push location and summary so recommendations start from fresh context.
	prefs := &app.PreferencesService{Gateway: deps.gateway, Identity: id, Log: deps.log}
	if summary, _, err := prefs.Summary(ctx); err == nil {
		_ = prefs.SyncLocation(ctx, deps.cfg.Location(), summary)
	}

	opts := app.SessionOptions{
		Gateway:      deps.gateway,
		Identity:     id,
		Locator:      app.StaticLocation{Loc: deps.cfg.Location()},
		Log:          deps.log,
		AgentID:      deps.cfg.AgentID,
		GroupID:      deps.cfg.GroupID,
		Cooldown:     deps.cfg.Cooldown(),
		PollInterval: deps.cfg.Poll(),
		HistoryCap:   deps.cfg.HistoryCap,
	}

	share := &app.ShareService{Gateway: deps.gateway, Log: deps.log}
	var loaded *app.LoadedShare
	if shareID != "" {
		var sctx *app.SharedSessionContext
		loaded, sctx, err = share.Load(ctx, shareID)
		if err != nil {
			return err
		}
		opts.Shared = sctx
	}

	session := app.NewChatSession(opts)
	defer session.Close()
	if loaded != nil {
		session.ReplayShared(loaded)
	}
	session.StartPolling(ctx)

	model := tui.NewModel(ctx, session, share, aiName)
	session.SetNotify(model.Notify)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = program.Run()
	return err
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     "dinechat",
		Short:   "终端里的餐厅推荐AI助手",
		Long:    "dinechat 是一个位置感知的餐厅推荐对话助手的终端客户端。\n不带参数运行进入聊天界面。",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps(configPath)
			if err != nil {
				return err
			}
			defer deps.close()
			return runChat(deps, "")
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", app.DefaultConfigPath(), "配置文件路径")

	shareCmd := &cobra.Command{
		Use:   "share <share-id>",
		Short: "打开一个共享会话",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps(configPath)
			if err != nil {
				return err
			}
			defer deps.close()
			return runChat(deps, args[0])
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "查看AI当前状态",
		RunE: withDeps(&configPath, func(ctx context.Context, deps *runtimeDeps, id app.Identity, args []string) error {
			svc := &app.PersonaService{Gateway: deps.gateway, Identity: id, Log: deps.log}
			st, err := svc.Status(ctx)
			if err != nil {
				return err
			}
			bold := color.New(color.Bold)
			bold.Printf("%s\n", st.Name)
			fmt.Printf("心情：%s\n", st.Mood)
			fmt.Printf("正在：%s\n", st.Activity)
			fmt.Printf("想着：%s\n", st.Thought)
			return nil
		}),
	}

	prefsCmd := &cobra.Command{
		Use:   "prefs",
		Short: "查看饮食偏好总结",
		RunE: withDeps(&configPath, func(ctx context.Context, deps *runtimeDeps, id app.Identity, args []string) error {
			svc := &app.PreferencesService{Gateway: deps.gateway, Identity: id, Log: deps.log}
			_, cats, err := svc.Summary(ctx)
			if err != nil {
				return err
			}
			if len(cats) == 0 {
				fmt.Println("还没有偏好记录，用 prefs submit 填写问卷吧")
				return nil
			}
			for _, cat := range cats {
				color.New(color.Bold).Printf("%s %s\n", cat.Icon, cat.Type)
				for i, it := range cat.Items {
					fmt.Printf("  %d. %s — %s\n", i+1, it.Title, it.Description)
				}
			}
			return nil
		}),
	}

	var draft app.PreferencesDraft
	var description string
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "提交饮食偏好问卷",
		RunE: withDeps(&configPath, func(ctx context.Context, deps *runtimeDeps, id app.Identity, args []string) error {
			draft.SetCustomDescription(description)
			svc := &app.PreferencesService{Gateway: deps.gateway, Identity: id, Log: deps.log}
			if err := svc.Submit(ctx, draft); err != nil {
				return err
			}
			color.Green("偏好已保存")
			return nil
		}),
	}
	submitCmd.Flags().StringVar(&draft.DiningScene, "scene", "", "饮食场景（必填）："+strings.Join(app.DiningScenes, " / "))
	submitCmd.Flags().StringSliceVar(&draft.DiningStyles, "styles", nil, "用餐方式")
	submitCmd.Flags().StringSliceVar(&draft.FlavorPreferences, "flavors", nil, "口味偏好")
	submitCmd.Flags().StringVar(&draft.AlcoholAttitude, "alcohol", "", "酒精态度")
	submitCmd.Flags().StringVar(&draft.Restrictions, "restrictions", "", "忌口")
	submitCmd.Flags().StringVar(&description, "description", "", "自由描述")
	prefsCmd.AddCommand(submitCmd)

	itemCmd := &cobra.Command{
		Use:   "item",
		Short: "管理偏好列表条目",
	}

	itemAddCmd := &cobra.Command{
		Use:   "add <类别> <标题> <描述>",
		Short: "向一个类别添加条目",
		Args:  cobra.ExactArgs(3),
		RunE: withDeps(&configPath, func(ctx context.Context, deps *runtimeDeps, id app.Identity, args []string) error {
			svc := &app.PreferencesService{Gateway: deps.gateway, Identity: id, Log: deps.log}
			_, cats, err := svc.Summary(ctx)
			if err != nil {
				return err
			}
			if _, err := svc.AddItem(ctx, cats, args[0], app.PreferenceEntry{Title: args[1], Description: args[2]}); err != nil {
				return err
			}
			color.Green("已添加")
			return nil
		}),
	}

	itemEditCmd := &cobra.Command{
		Use:   "edit <类别> <序号> <标题> <描述>",
		Short: "修改一个条目（序号见 prefs 列表）",
		Args:  cobra.ExactArgs(4),
		RunE: withDeps(&configPath, func(ctx context.Context, deps *runtimeDeps, id app.Identity, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("序号必须是数字：%q", args[1])
			}
			svc := &app.PreferencesService{Gateway: deps.gateway, Identity: id, Log: deps.log}
			_, cats, err := svc.Summary(ctx)
			if err != nil {
				return err
			}
			if _, err := svc.EditItem(ctx, cats, args[0], index-1, app.PreferenceEntry{Title: args[2], Description: args[3]}); err != nil {
				return err
			}
			color.Green("已修改")
			return nil
		}),
	}

	itemDeleteCmd := &cobra.Command{
		Use:   "delete <类别> <序号>",
		Short: "删除一个条目（序号见 prefs 列表）",
		Args:  cobra.ExactArgs(2),
		RunE: withDeps(&configPath, func(ctx context.Context, deps *runtimeDeps, id app.Identity, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("序号必须是数字：%q", args[1])
			}
			svc := &app.PreferencesService{Gateway: deps.gateway, Identity: id, Log: deps.log}
			_, cats, err := svc.Summary(ctx)
			if err != nil {
				return err
			}
			if _, err := svc.DeleteItem(ctx, cats, args[0], index-1); err != nil {
				return err
			}
			color.Green("已删除")
			return nil
		}),
	}
	itemCmd.AddCommand(itemAddCmd, itemEditCmd, itemDeleteCmd)
	prefsCmd.AddCommand(itemCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "查看历史偏好记录",
		RunE: withDeps(&configPath, func(ctx context.Context, deps *runtimeDeps, id app.Identity, args []string) error {
			svc := &app.PreferencesService{Gateway: deps.gateway, Identity: id, Log: deps.log}
			entries, err := svc.History(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("暂无历史记录")
				return nil
			}
			for _, e := range entries {
				color.New(color.Bold).Printf("%s  %s\n", e.ID, e.CreatedAt)
				fmt.Printf("  %s\n", e.Summary)
			}
			return nil
		}),
	}

	historyDeleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "删除一条历史记录",
		Args:  cobra.ExactArgs(1),
		RunE: withDeps(&configPath, func(ctx context.Context, deps *runtimeDeps, id app.Identity, args []string) error {
			svc := &app.PreferencesService{Gateway: deps.gateway, Identity: id, Log: deps.log}
			if err := svc.DeleteHistory(ctx, args[0]); err != nil {
				return err
			}
			color.Green("已删除")
			return nil
		}),
	}
	historyCmd.AddCommand(historyDeleteCmd)
	prefsCmd.AddCommand(historyCmd)

	var personaName, personality, style, memories string
	personaCmd := &cobra.Command{
		Use:   "persona",
		Short: "查看或修改AI人设",
		RunE: withDeps(&configPath, func(ctx context.Context, deps *runtimeDeps, id app.Identity, args []string) error {
			svc := &app.PersonaService{Gateway: deps.gateway, Identity: id, Log: deps.log}

			if personaName == "" && personality == "" && style == "" && memories == "" {
				s, err := svc.Load(ctx)
				if err != nil {
					return err
				}
				color.New(color.Bold).Println(s.Name)
				fmt.Printf("性格：%s\n说话风格：%s\n", s.Personality, s.SpeakingStyle)
				if s.Memories != "" {
					fmt.Printf("记忆：%s\n", s.Memories)
				}
				return nil
			}

			current, err := svc.Load(ctx)
			if err != nil {
				return err
			}
			if personaName != "" {
				current.Name = personaName
			}
			if personality != "" {
				current.Personality = personality
			}
			if style != "" {
				current.SpeakingStyle = style
			}
			if memories != "" {
				current.Memories = memories
			}
			if err := svc.Save(ctx, current); err != nil {
				return err
			}
			color.Green("设置成功")
			return nil
		}),
	}
	personaCmd.Flags().StringVar(&personaName, "name", "", "AI名字")
	personaCmd.Flags().StringVar(&personality, "personality", "", "性格："+strings.Join(app.Personalities, " / "))
	personaCmd.Flags().StringVar(&style, "style", "", "说话风格："+strings.Join(app.SpeakingStyles, " / "))
	personaCmd.Flags().StringVar(&memories, "memories", "", "共同记忆")

	var contact, fbType string
	feedbackCmd := &cobra.Command{
		Use:   "feedback <内容>",
		Short: "提交反馈",
		Args:  cobra.MinimumNArgs(1),
		RunE: withDeps(&configPath, func(ctx context.Context, deps *runtimeDeps, id app.Identity, args []string) error {
			svc := &app.FeedbackService{Gateway: deps.gateway, Identity: id}
			if err := svc.Submit(ctx, app.Feedback{
				Type:        fbType,
				Content:     strings.Join(args, " "),
				ContactInfo: contact,
			}); err != nil {
				return err
			}
			color.Green("反馈已提交")
			return nil
		}),
	}
	feedbackCmd.Flags().StringVar(&contact, "contact", "", "联系方式")
	feedbackCmd.Flags().StringVar(&fbType, "type", "", "反馈类型："+strings.Join(app.FeedbackTypes, " / "))

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "退出登录并清除本地凭证",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildDeps(configPath)
			if err != nil {
				return err
			}
			defer deps.close()
			if err := deps.resolver.Logout(); err != nil {
				return err
			}
			fmt.Println("已退出登录")
			return nil
		},
	}

	root.AddCommand(shareCmd, statusCmd, prefsCmd, personaCmd, feedbackCmd, logoutCmd)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("错误：%v", err)
		os.Exit(1)
	}
}
