package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/and161185/clinic-keeper/internal/config"
	"github.com/and161185/clinic-keeper/internal/convert"
	"github.com/and161185/clinic-keeper/internal/ident"
	grpcserver "github.com/and161185/clinic-keeper/internal/server/grpc"
	"github.com/and161185/clinic-keeper/internal/service"
)

// ---- grpc dial ----

type remoteOptions struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
	token     string
	timeout   time.Duration
}

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, insecure bool) (credentials.TransportCredentials, error) {
	if insecure {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(o *remoteOptions) (*grpc.ClientConn, *grpcserver.AdminClient, error) {
	tok := o.token
	if tok == "" {
		t, err := loadToken()
		if err != nil {
			return nil, nil, err
		}
		tok = t
	}
	creds := insecure.NewCredentials()
	if !o.plaintext {
		c, err := loadTLS(o.caPath, o.insecure)
		if err != nil {
			return nil, nil, err
		}
		creds = c
	}
	cc, err := grpc.NewClient(o.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(bearerCreds{token: tok, secure: !o.plaintext}),
	)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewAdminClient(cc), nil
}

// withAdmin dials, runs fn under the call timeout and closes the connection.
func withAdmin(cmd *cobra.Command, o *remoteOptions, fn func(ctx context.Context, c *grpcserver.AdminClient) error) error {
	cc, c, err := dial(o)
	if err != nil {
		return err
	}
	defer func() { _ = cc.Close() }()
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()
	return fn(ctx, c)
}

func entityRef(args []string) (convert.EntityRef, error) {
	id, err := ident.Parse(args[1])
	if err != nil {
		return convert.EntityRef{}, err
	}
	return convert.EntityRef{Table: args[0], ID: id}, nil
}

func newRemoteCommand(opts *RootOptions) *cobra.Command {
	o := &remoteOptions{}
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Call the admin API of a running server",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&o.addr, "addr", "localhost:8443", "server addr")
	pf.StringVar(&o.caPath, "cacert", "", "CA cert (PEM)")
	pf.BoolVar(&o.insecure, "insecure", false, "skip cert verify (dev)")
	pf.BoolVar(&o.plaintext, "plaintext", false, "connect without TLS")
	pf.StringVar(&o.token, "token", "", "bearer token; the saved token is used when empty")
	pf.DurationVar(&o.timeout, "timeout", 30*time.Second, "call timeout")

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Per-table entity counts and the last revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := newOutput(cmd, opts)
			return withAdmin(cmd, o, func(ctx context.Context, c *grpcserver.AdminClient) error {
				resp, err := c.Stats(ctx)
				if err != nil {
					return err
				}
				tables, rev, err := convert.FromProtoStats(resp)
				if err != nil {
					return err
				}
				if out.format == "json" {
					return out.Print(inspectResult{Revision: rev.ID.String(), Ver: rev.Ver, SavedAt: rev.SavedAt, Tables: tables}, "")
				}
				return out.Counts(fmt.Sprintf("revision %s ver %d", rev.ID, rev.Ver), tables)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Save a snapshot now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := newOutput(cmd, opts)
			return withAdmin(cmd, o, func(ctx context.Context, c *grpcserver.AdminClient) error {
				resp, err := c.Flush(ctx)
				if err != nil {
					return err
				}
				rev, err := convert.FromProtoRevision(resp)
				if err != nil {
					return err
				}
				return out.Print(map[string]any{"revision": rev.ID.String(), "ver": rev.Ver, "saved_at": rev.SavedAt},
					fmt.Sprintf("saved revision %s ver %d", rev.ID, rev.Ver))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <table> <id>",
		Short: "Print one stored record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := entityRef(args)
			if err != nil {
				return err
			}
			return withAdmin(cmd, o, func(ctx context.Context, c *grpcserver.AdminClient) error {
				resp, err := c.GetEntity(ctx, convert.ToProtoEntityRef(ref))
				if err != nil {
					return err
				}
				raw, err := convert.FromProtoRecord(resp)
				if err != nil {
					return err
				}
				var buf bytes.Buffer
				if err := json.Indent(&buf, raw, "", "  "); err != nil {
					return err
				}
				buf.WriteByte('\n')
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <table> <id>",
		Short: "Delete one entity, running its referential actions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(cmd, opts)
			ref, err := entityRef(args)
			if err != nil {
				return err
			}
			return withAdmin(cmd, o, func(ctx context.Context, c *grpcserver.AdminClient) error {
				if err := c.DeleteEntity(ctx, convert.ToProtoEntityRef(ref)); err != nil {
					return err
				}
				return out.Print(map[string]any{"table": ref.Table, "id": ref.ID, "deleted": true},
					fmt.Sprintf("deleted %s/%s", ref.Table, ref.ID))
			})
		},
	})
	return cmd
}

func newTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		key     string
		subject string
		ttl     time.Duration
		save    bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token signed with the server key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := newOutput(cmd, opts)
			if key == "" {
				return fmt.Errorf("missing signing key (--jwt-key or %s)", config.EnvJWTKey)
			}
			svc, err := service.NewTokenService([]byte(key), ttl)
			if err != nil {
				return err
			}
			tok, err := svc.Issue(subject)
			if err != nil {
				return err
			}
			if save {
				if err := saveToken(tok.AccessToken, tok.ExpiresAt); err != nil {
					return err
				}
			}
			return out.Print(map[string]any{"access_token": tok.AccessToken, "expires_at": tok.ExpiresAt},
				tok.AccessToken)
		},
	}
	cmd.Flags().StringVar(&key, "jwt-key", os.Getenv(config.EnvJWTKey), "HMAC signing key")
	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", config.Default().Server.TokenTTL, "token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "store the token for remote commands")
	return cmd
}
