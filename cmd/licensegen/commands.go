package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"pixelbarcode/internal/app"
	"pixelbarcode/internal/config"
	"pixelbarcode/internal/infrastructure"
	"pixelbarcode/internal/license"
	"pixelbarcode/internal/security"
)

// ErrNotLicensed is returned by check when the installed license is unusable
var ErrNotLicensed = errors.New("license is not valid")

// environment carries what the commands need from the outside world
type environment struct {
	loadConfig    func() (*config.Config, error)
	fingerprinter func(*slog.Logger) security.Fingerprinter
	stderr        io.Writer
}

func defaultEnvironment() *environment {
	return &environment{
		loadConfig: config.Load,
		fingerprinter: func(logger *slog.Logger) security.Fingerprinter {
			return security.NewHostFingerprinter(logger)
		},
		stderr: os.Stderr,
	}
}

// runtime is resolved once per invocation in PersistentPreRunE
type runtime struct {
	env    *environment
	secret string

	cfg    *config.Config
	logger *slog.Logger
	lic    *app.LicenseComponents
}

func (rt *runtime) prepare() error {
	cfg, err := rt.env.loadConfig()
	if err != nil {
		return err
	}
	if rt.secret != "" {
		cfg.License.Secret = rt.secret
	}

	logger, err := infrastructure.NewLogger(cfg.Logging, rt.env.stderr)
	if err != nil {
		return err
	}

	lic, err := app.NewLicenseComponents(cfg, rt.env.fingerprinter(logger), nil, nil, logger)
	if err != nil {
		return err
	}

	rt.cfg, rt.logger, rt.lic = cfg, logger, lic
	return nil
}

var validate = validator.New()

func newRootCommand(env *environment) *cobra.Command {
	rt := &runtime{env: env}

	root := &cobra.Command{
		Use:           "licensegen",
		Short:         "Issue and inspect machine-bound license files",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return rt.prepare()
		},
	}
	root.PersistentFlags().StringVar(&rt.secret, "secret", "", "codec secret (defaults to the configured secret)")

	root.AddCommand(
		newRequestCommand(rt),
		newIssueCommand(rt),
		newInspectCommand(rt),
		newCheckCommand(rt),
		newRotateCommand(rt),
	)
	return root
}

func newRequestCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "request",
		Short: "Print the machine request token for this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := rt.lic.Manager.MachineRequest(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

type issueOptions struct {
	Request string `validate:"required"`
	Start   string `validate:"omitempty,datetime=2006-01-02"`
	Expiry  string `validate:"omitempty,datetime=2006-01-02"`
	Out     string
}

func newIssueCommand(rt *runtime) *cobra.Command {
	opts := &issueOptions{}
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a license for the machine that produced a request token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validate.Struct(opts); err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}

			fp, err := license.DecodeRequest(rt.lic.RequestCodec, opts.Request)
			if err != nil {
				return fmt.Errorf("invalid request token: %w", err)
			}
			start, err := optionalDate(opts.Start)
			if err != nil {
				return err
			}
			expiry, err := optionalDate(opts.Expiry)
			if err != nil {
				return err
			}

			art, err := license.Issue(rt.lic.Codec, fp, start, expiry)
			if err != nil {
				return err
			}

			if opts.Out == "" {
				return writeJSON(cmd.OutOrStdout(), art)
			}
			if err := license.NewStore(opts.Out).Save(art); err != nil {
				return err
			}
			rt.logger.Info("License issued",
				slog.String("file", opts.Out),
				slog.String("machine_id", security.MaskIdentifier(fp.MachineID)),
				slog.String("expiry", opts.Expiry))
			fmt.Fprintf(cmd.OutOrStdout(), "license written to %s\n", opts.Out)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Request, "request", "", "machine request token")
	f.StringVar(&opts.Start, "start", "", "first valid day (YYYY-MM-DD)")
	f.StringVar(&opts.Expiry, "expiry", "", "last valid day (YYYY-MM-DD)")
	f.StringVar(&opts.Out, "out", "", "output file (stdout when empty)")
	return cmd
}

func newInspectCommand(rt *runtime) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Decode and print the record inside a license file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := file
			if path == "" {
				path = rt.cfg.LicensePath()
			}
			art, err := license.NewStore(path).Load()
			if err != nil {
				return err
			}
			rec, err := license.Open(rt.lic.Codec, art)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "license file (defaults to the configured license path)")
	return cmd
}

// checkResult is printed by the check command
type checkResult struct {
	Path       string        `json:"path"`
	State      license.State `json:"state"`
	Reason     string        `json:"reason,omitempty"`
	ExpiryDate *license.Date `json:"expiryDate,omitempty"`
}

func newCheckCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report the state of the installed license",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := rt.lic.Manager.Status(cmd.Context())
			if err != nil {
				return err
			}
			res := checkResult{
				Path:   rt.lic.Manager.Path(),
				State:  st.State,
				Reason: string(st.Reason),
			}
			if st.Record != nil {
				res.ExpiryDate = st.Record.Expiry
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if st.State != license.Valid {
				return ErrNotLicensed
			}
			return nil
		},
	}
}

func newRotateCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Re-seal the installed license under a fresh nonce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rt.lic.Manager.Rotate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "license rotated")
			return nil
		},
	}
}

func optionalDate(s string) (*license.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := license.ParseDate(s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return &d, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
