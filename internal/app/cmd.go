package app

import (
	"io"

	"github.com/spf13/cobra"
)

// Command はサブコマンド名を表す。
type Command string

const (
	// CommandRun は端末UIを起動する。
	CommandRun Command = "run"
	// CommandLogin はパスワードでサインインする。
	CommandLogin Command = "login"
	// CommandLogout はサインアウトし、保存済みセッションを破棄する。
	CommandLogout Command = "logout"
	// CommandWhoami は現在のセッションの検証結果を表示する。
	CommandWhoami Command = "whoami"
	// CommandExport は表示対象のエントリをCSVで書き出す。
	CommandExport Command = "export"
	// CommandAreas はACTIVOのエリアを階層表示する。
	CommandAreas Command = "areas"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は運用エンドポイントの/healthを確認する。
	// 設定の読み込みを行わない軽量サブコマンド。
	CommandHealthcheck Command = "healthcheck"
)

// exportOptions はexportコマンドのフラグ。
type exportOptions struct {
	out      string
	search   string
	area     string
	encoding string
	advanced bool
}

// migrateOptions はmigrateコマンドのフラグ。
type migrateOptions struct {
	status bool
	down   int
}

// NewRootCommand はdirectorioのルートコマンドを生成する。
// logwはログの出力先（runコマンドはLOG_FILEに切り替える）。
// 引数なしで実行した場合はrunとして扱う。
func NewRootCommand(logw io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "directorio",
		Short: "Directorio de personal de AIFA",
		Long: `Directorio de personal de AIFA.

Solo los perfiles con rol DIRECTOR y estado ACTIVO pueden acceder.
La sesión se guarda localmente y se restaura en el siguiente inicio.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, logw)
		},
	}

	runCmd := &cobra.Command{
		Use:   string(CommandRun),
		Short: "Abre el directorio en la terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, logw)
		},
	}

	loginCmd := &cobra.Command{
		Use:   string(CommandLogin) + " [email]",
		Short: "Inicia sesión con correo institucional y contraseña",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, logw, args)
		},
	}

	logoutCmd := &cobra.Command{
		Use:   string(CommandLogout),
		Short: "Cierra la sesión",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd, logw)
		},
	}

	whoamiCmd := &cobra.Command{
		Use:   string(CommandWhoami),
		Short: "Muestra la sesión actual y si tiene acceso",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd, logw)
		},
	}

	var exportOpts exportOptions
	exportCmd := &cobra.Command{
		Use:   string(CommandExport),
		Short: "Exporta el directorio a CSV",
		Long: `Exporta las entradas activas a CSV.

Ejemplos:
  directorio export --out directorio.csv
  directorio export --search torres --encoding windows-1252 > torres.csv
  directorio export --advanced --search operaciones`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, logw, exportOpts)
		},
	}
	exportCmd.Flags().StringVarP(&exportOpts.out, "out", "o", "-", "Archivo de salida (- para stdout)")
	exportCmd.Flags().StringVar(&exportOpts.search, "search", "", "Texto a buscar en nombre, puesto, departamento o email")
	exportCmd.Flags().StringVar(&exportOpts.area, "area", "", "ID del área")
	exportCmd.Flags().StringVar(&exportOpts.encoding, "encoding", "", "utf-8 o windows-1252 (por defecto EXPORT_ENCODING)")
	exportCmd.Flags().BoolVar(&exportOpts.advanced, "advanced", false, "Busca también por nombre de área (buscar_directorio)")

	areasCmd := &cobra.Command{
		Use:   string(CommandAreas),
		Short: "Muestra las áreas activas con su jerarquía e ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAreas(cmd, logw)
		},
	}

	var migrateOpts migrateOptions
	migrateCmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Aplica las migraciones de la base de datos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, logw, migrateOpts)
		},
	}
	migrateCmd.Flags().BoolVar(&migrateOpts.status, "status", false, "Muestra la versión actual sin aplicar cambios")
	migrateCmd.Flags().IntVar(&migrateOpts.down, "down", 0, "Revierte N migraciones")

	var healthAddr string
	healthCmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Consulta /health del servidor de operación",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), healthURL(healthAddr))
		},
	}
	healthCmd.Flags().StringVar(&healthAddr, "addr", "", "Dirección del servidor (por defecto METRICS_ADDR o localhost:9090)")

	root.AddCommand(runCmd, loginCmd, logoutCmd, whoamiCmd, exportCmd, areasCmd, migrateCmd, healthCmd)
	return root
}
