package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"maxyourpoints/internal/article"
	"maxyourpoints/internal/category"
	"maxyourpoints/internal/config"
	"maxyourpoints/internal/fallback"
	"maxyourpoints/internal/pkg/logger"
	"maxyourpoints/internal/store"
	"maxyourpoints/internal/user"
)

var (
	configPath string

	adminEmail    string
	adminName     string
	adminPassword string

	rootCmd = &cobra.Command{
		Use:   "cmsctl",
		Short: "Maintenance commands for the Max Your Points CMS database",
	}

	seedAdminCmd = &cobra.Command{
		Use:   "seed-admin",
		Short: "Create a SUPER_ADMIN account (prints a generated password when none is given)",
		RunE:  runSeedAdmin,
	}

	seedCategoriesCmd = &cobra.Command{
		Use:   "seed-categories",
		Short: "Insert the default categories that are missing",
		RunE:  runSeedCategories,
	}

	dbStatusCmd = &cobra.Command{
		Use:   "db-status",
		Short: "Probe the configured database",
		RunE:  runDBStatus,
	}

	publishDueCmd = &cobra.Command{
		Use:   "publish-due",
		Short: "Publish scheduled articles whose time has come",
		RunE:  runPublishDue,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "config file (json or yaml)")

	seedAdminCmd.Flags().StringVar(&adminEmail, "email", "admin@maxyourpoints.com", "account email")
	seedAdminCmd.Flags().StringVar(&adminName, "name", "Max Your Points Admin", "display name")
	seedAdminCmd.Flags().StringVar(&adminPassword, "password", "", "password (generated when empty)")

	rootCmd.AddCommand(seedAdminCmd, seedCategoriesCmd, dbStatusCmd, publishDueCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("cmsctl: %v", err)
	}
}

type env struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Handle
	fb     *fallback.Provider
	users  *user.Service
}

// open 加载配置并连接数据库。数据库不可用时返回错误。
func open(ctx context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	lg := logger.New(os.Stderr, cfg.App.LogLevel, cfg.App.LogFormat)
	h := store.Open(ctx, cfg.Database, lg)
	if !h.Connected() {
		return nil, fmt.Errorf("database unavailable: %s", h.Reason())
	}
	b, err := user.NewBootstrap(cfg.Security.BootstrapEmail, cfg.Security.BootstrapName, cfg.Security.BootstrapPassword, bcrypt.DefaultCost)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	fb := fallback.New(b.User())
	return &env{
		cfg:    cfg,
		logger: lg,
		store:  h,
		fb:     fb,
		users:  user.NewService(h, fb, b, lg),
	}, nil
}

const passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generatePassword(n int) (string, error) {
	out := make([]byte, n)
	limit := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}

func runSeedAdmin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := open(ctx)
	if err != nil {
		return err
	}
	defer e.store.Close()

	password := adminPassword
	generated := false
	if password == "" {
		if password, err = generatePassword(16); err != nil {
			return fmt.Errorf("generate password: %w", err)
		}
		generated = true
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	u, created, err := e.users.ProvisionSuperAdmin(ctx, adminEmail, adminName, password)
	if err != nil {
		return err
	}
	if !created {
		fmt.Fprintf(cmd.OutOrStdout(), "account %s already exists (role %s), nothing changed\n", u.Email, u.Role)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", u.Email, u.Role)
	if generated {
		fmt.Fprintf(cmd.OutOrStdout(), "password: %s\n", password)
	}
	return nil
}

func runSeedCategories(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := open(ctx)
	if err != nil {
		return err
	}
	defer e.store.Close()

	n, err := category.NewService(e.store, e.fb, e.logger).SeedDefaults(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d categories created\n", n)
	return nil
}

func runDBStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	lg := logger.New(os.Stderr, cfg.App.LogLevel, cfg.App.LogFormat)
	h := store.Open(cmd.Context(), cfg.Database, lg)
	defer h.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "driver: %s\nstate:  %s\n", cfg.Database.Driver, h.State())
	if !h.Connected() {
		fmt.Fprintf(cmd.OutOrStdout(), "reason: %s\n", h.Reason())
		return fmt.Errorf("database unavailable")
	}
	return nil
}

func runPublishDue(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := open(ctx)
	if err != nil {
		return err
	}
	defer e.store.Close()

	n, err := article.NewService(e.store, e.fb, e.users, e.logger).PromoteDue(ctx, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d articles published\n", n)
	return nil
}
