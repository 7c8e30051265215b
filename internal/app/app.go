// Package app はコマンドラインの各サブコマンドと依存関係のワイヤリングを提供する。
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aifa/directorio/internal/config"
	"github.com/aifa/directorio/internal/database"
	"github.com/aifa/directorio/internal/form"
	"github.com/aifa/directorio/internal/logger"
	"github.com/aifa/directorio/internal/model"
	"github.com/aifa/directorio/internal/session"
	"github.com/aifa/directorio/internal/style"
	"github.com/aifa/directorio/internal/tui"
)

// errNoAccess はサインインしたがディレクトリへのアクセス権がない場合のエラー。
var errNoAccess = errors.New("sin acceso al directorio")

// Init はアプリケーションの初期化を行う。
// 環境変数（と設定ファイル）からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでコマンドのcontextがキャンセルされる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// initWithLogFile はInitの後、ログの出力先をLOG_FILEに切り替える。
// ファイルを開けない場合はwへの出力を続ける。
func initWithLogFile(w io.Writer) (*config.Config, func(), error) {
	cfg, err := Init(w)
	if err != nil {
		return nil, nil, fmt.Errorf("initialization failed: %w", err)
	}

	f, err := logger.OpenFile(cfg.LogFile)
	if err != nil {
		slog.Warn("falling back to stderr logging", slog.String("error", err.Error()))
		return cfg, func() {}, nil
	}
	logger.SetupDefault(f, logger.ParseLevel(cfg.LogLevel))
	return cfg, func() { f.Close() }, nil
}

// runTUI は端末UIを起動する。
// 初回のセッション検証はUIの表示と並行して行い、その間は読み込み中の画面を表示する。
func runTUI(cmd *cobra.Command, w io.Writer) error {
	cfg, closeLog, err := initWithLogFile(w)
	if err != nil {
		return err
	}
	defer closeLog()

	rt, err := newRuntime(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := rt.start(cmd.Context())
	slog.Info("starting terminal UI",
		slog.String("supabase_url", cfg.SupabaseURL),
		slog.Bool("auto_refresh", cfg.AutoRefreshToken),
	)

	m := tui.New(ctx, rt.session, rt.directory, tui.Config{
		EmailDomain:    cfg.AllowedEmailDomain,
		ExportEncoding: cfg.ExportEncoding,
	})
	defer m.Close()

	go rt.session.Start(ctx)

	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithReportFocus(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("terminal UI failed: %w", err)
	}

	slog.Info("terminal UI stopped")
	return nil
}

// runLogin はパスワードでサインインし、アクセス権を表示する。
// 入力形式はサービスに問い合わせる前に検証する。
func runLogin(cmd *cobra.Command, w io.Writer, args []string) error {
	cfg, closeLog, err := initWithLogFile(w)
	if err != nil {
		return err
	}
	defer closeLog()

	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	var email string
	if len(args) > 0 {
		email = args[0]
	} else if email, err = promptLine(in, out, "Correo: "); err != nil {
		return err
	}
	password, err := readPassword(cmd.InOrStdin(), in, out, "Contraseña: ")
	if err != nil {
		return err
	}

	email = strings.TrimSpace(email)
	if err := form.ValidateLogin(email, password, cfg.AllowedEmailDomain); err != nil {
		return err
	}

	rt, err := newRuntime(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer rt.Close()

	res := rt.session.SignIn(cmd.Context(), email, password)
	if !res.Success {
		return errors.New(res.Error)
	}

	a := rt.session.CurrentAccess()
	fmt.Fprintln(out, describeAccess(a))
	if !a.HasAccess {
		return errNoAccess
	}
	return nil
}

// runLogout はサインアウトする。サーバー側の無効化に失敗してもローカルのセッションは破棄される。
func runLogout(cmd *cobra.Command, w io.Writer) error {
	cfg, closeLog, err := initWithLogFile(w)
	if err != nil {
		return err
	}
	defer closeLog()

	rt, err := newRuntime(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	res := rt.session.SignOut(cmd.Context())
	if !res.Success {
		fmt.Fprintf(out, "%s %s\n", style.WarningPrefix, res.Error)
	}
	fmt.Fprintf(out, "%s Sesión cerrada\n", style.SuccessPrefix)
	return nil
}

// runWhoami は保存済みセッションを検証し、その結果を表示する。
func runWhoami(cmd *cobra.Command, w io.Writer) error {
	cfg, closeLog, err := initWithLogFile(w)
	if err != nil {
		return err
	}
	defer closeLog()

	rt, err := newRuntime(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer rt.Close()

	a := rt.session.Start(cmd.Context())
	fmt.Fprintln(cmd.OutOrStdout(), describeAccess(a))
	return nil
}

// runExport は表示対象のエントリをCSVで書き出す。アクセス権が必要。
func runExport(cmd *cobra.Command, w io.Writer, opts exportOptions) error {
	cfg, closeLog, err := initWithLogFile(w)
	if err != nil {
		return err
	}
	defer closeLog()

	rt, err := newRuntime(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	if a := rt.session.Start(ctx); !a.HasAccess {
		fmt.Fprintln(cmd.ErrOrStderr(), describeAccess(a))
		return model.NewNotAuthenticatedError()
	}

	encoding := opts.encoding
	if encoding == "" {
		encoding = cfg.ExportEncoding
	}
	filter := model.DirectoryFilter{Search: opts.search, AreaID: opts.area, Advanced: opts.advanced}

	if opts.out == "" || opts.out == "-" {
		_, err := rt.directory.ExportCSV(ctx, cmd.OutOrStdout(), filter, encoding)
		return err
	}

	f, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	n, err := rt.directory.ExportCSV(ctx, f, filter, encoding)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(opts.out)
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%s %d entradas exportadas a %s\n", style.SuccessPrefix, n, opts.out)
	return nil
}

// runAreas はACTIVOのエリアを親子関係に沿って表示する。
// exportの--areaに渡すIDの確認用。
func runAreas(cmd *cobra.Command, w io.Writer) error {
	cfg, closeLog, err := initWithLogFile(w)
	if err != nil {
		return err
	}
	defer closeLog()

	rt, err := newRuntime(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	if a := rt.session.Start(ctx); !a.HasAccess {
		fmt.Fprintln(cmd.ErrOrStderr(), describeAccess(a))
		return model.NewNotAuthenticatedError()
	}

	areas, err := rt.directory.AreaHierarchy(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), formatAreaTree(areas))
	return nil
}

// formatAreaTree はエリアを親の下に字下げして並べる。
// 親が一覧に含まれないエリアは最上位として扱う。
func formatAreaTree(areas []*model.Area) string {
	known := make(map[string]bool, len(areas))
	for _, a := range areas {
		known[a.ID] = true
	}
	children := make(map[string][]*model.Area)
	var roots []*model.Area
	for _, a := range areas {
		if a.ParentAreaID != nil && known[*a.ParentAreaID] && *a.ParentAreaID != a.ID {
			children[*a.ParentAreaID] = append(children[*a.ParentAreaID], a)
			continue
		}
		roots = append(roots, a)
	}

	var b strings.Builder
	visited := make(map[string]bool, len(areas))
	var walk func(a *model.Area, depth int)
	walk = func(a *model.Area, depth int) {
		if visited[a.ID] {
			return
		}
		visited[a.ID] = true
		fmt.Fprintf(&b, "%s%s [%s]  %s\n", strings.Repeat("  ", depth), a.Name, a.Code, a.ID)
		for _, c := range children[a.ID] {
			walk(c, depth+1)
		}
	}
	for _, a := range roots {
		walk(a, 0)
	}
	// 親子が循環しているエリア
	for _, a := range areas {
		walk(a, 0)
	}
	return b.String()
}

// runMigrate はデータベースマイグレーションを実行する。
// 既定ではすべての未適用マイグレーションを順番に適用する。
func runMigrate(cmd *cobra.Command, w io.Writer, opts migrateOptions) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	out := cmd.OutOrStdout()
	switch {
	case opts.status:
		version, dirty, err := database.MigrationStatus(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		fmt.Fprintf(out, "version=%d dirty=%t\n", version, dirty)
		return nil

	case opts.down > 0:
		slog.Info("rolling back database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
			slog.Int("steps", opts.down),
		)
		if err := database.RollbackMigrations(cfg.DatabaseURL, opts.down); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database rollback completed successfully")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// 運用エンドポイントの/healthにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// healthURL は/healthのURLを組み立てる。addrが空の場合はMETRICS_ADDRを使う。
func healthURL(addr string) string {
	if addr == "" {
		addr = os.Getenv("METRICS_ADDR")
	}
	if addr == "" {
		addr = "localhost:9090"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/health"
}

// describeAccess は読み取りモデルを1行から2行の表示用テキストにする。
func describeAccess(a session.Access) string {
	switch {
	case a.IsAuthenticated && a.HasAccess:
		return fmt.Sprintf("%s %s (%s)", style.SuccessPrefix, a.Profile.FullName, a.Profile.Role)
	case a.ErrorKind == model.AuthErrorUnavailable:
		return fmt.Sprintf("%s %s", style.WarningPrefix, a.Error)
	case a.IsAuthenticated:
		msg := fmt.Sprintf("%s Acceso denegado", style.ErrorPrefix)
		if p := a.Profile; p != nil {
			msg += fmt.Sprintf(": %s (%s)", p.FullName, p.Role)
		}
		if a.Error != "" {
			msg += "\n  " + a.Error
		}
		return msg
	case a.Error != "":
		return fmt.Sprintf("%s %s", style.ErrorPrefix, a.Error)
	default:
		return fmt.Sprintf("%s Sin sesión. Ejecuta 'directorio login'.", style.ArrowPrefix)
	}
}

// promptLine はプロンプトを表示して1行読み取る。
func promptLine(in *bufio.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassword は端末からはエコーなしで、それ以外（パイプ）からは1行でパスワードを読み取る。
func readPassword(raw io.Reader, in *bufio.Reader, out io.Writer, prompt string) (string, error) {
	if f, ok := raw.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	return promptLine(in, out, prompt)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
