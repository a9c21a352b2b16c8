package main

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wellgone/augment-token-manager-worker/internal/adapter/tenant"
	"github.com/wellgone/augment-token-manager-worker/internal/service/validator"
)

var (
	probeTenantURL string
	probeToken     string
	probeTimeout   time.Duration
	probeDebug     bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Classify one access token against its tenant API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if probeTenantURL == "" || probeToken == "" {
			return errors.New("--tenant-url and --token are required")
		}

		logger := zap.NewNop()
		if probeDebug {
			dev, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer func() { _ = dev.Sync() }()
			logger = dev
		}

		v := validator.New(tenant.NewHTTPClient(nil), validator.Options{
			Timeout: probeTimeout,
			Debug:   probeDebug,
		}, logger)

		result, err := v.ValidateToken(cmd.Context(), probeToken, tenant.NormalizeBaseURL(probeTenantURL))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeTenantURL, "tenant-url", "", "Tenant API base URL")
	probeCmd.Flags().StringVar(&probeToken, "token", "", "Access token to classify")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", validator.DefaultTimeout, "Probe timeout")
	probeCmd.Flags().BoolVar(&probeDebug, "debug", false, "Attach request and response details")
}
