package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	jwtx "github.com/dropDatabas3/hellogate/internal/jwt"
)

func newTokenCmd() *cobra.Command {
	tokenCmd := &cobra.Command{Use: "token", Short: "Emisión de tokens de prueba"}

	var (
		alg, kid, keyFile, secret string
		iss, aud, sub             string
		ttl                       time.Duration
		claims                    []string
	)
	sign := &cobra.Command{
		Use:   "sign",
		Short: "Firma un access token (HMAC con --secret o PEM con --key)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ok := jwtx.ParseAlgorithm(strings.ToUpper(alg))
			if !ok {
				return fmt.Errorf("--alg: algoritmo no soportado %q", alg)
			}

			var key any
			if a.Class() == jwtx.ClassHMAC {
				if secret == "" {
					return fmt.Errorf("--secret es requerido para %s", a)
				}
				key = []byte(secret)
			} else {
				if keyFile == "" {
					return fmt.Errorf("--key es requerido para %s", a)
				}
				pemBytes, err := os.ReadFile(keyFile)
				if err != nil {
					return err
				}
				if key, err = jwtx.ParsePrivateKeyPEM(a, pemBytes); err != nil {
					return err
				}
			}

			signer, err := jwtx.NewSigner(iss, kid, a, key)
			if err != nil {
				return err
			}
			signer.AccessTTL = ttl

			extra, err := parseClaims(claims)
			if err != nil {
				return err
			}
			tok, exp, err := signer.IssueAccess(sub, aud, extra)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires: %s\n", exp.UTC().Format(time.RFC3339))
			return nil
		},
	}
	sign.Flags().StringVar(&alg, "alg", "HS256", "algoritmo (HS*, RS*, PS*, ES*, EdDSA)")
	sign.Flags().StringVar(&kid, "kid", "shared", "kid del header")
	sign.Flags().StringVar(&keyFile, "key", "", "clave privada PEM (RSA/EC/Ed25519)")
	sign.Flags().StringVar(&secret, "secret", envOr("OIDC_HMAC_SECRET", ""), "secreto HMAC (env OIDC_HMAC_SECRET)")
	sign.Flags().StringVar(&iss, "iss", envOr("OIDC_ISSUER", ""), "issuer (env OIDC_ISSUER)")
	sign.Flags().StringVar(&aud, "aud", envOr("OIDC_AUDIENCE", ""), "audience (env OIDC_AUDIENCE)")
	sign.Flags().StringVar(&sub, "sub", "", "subject")
	sign.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "vida del token")
	sign.Flags().StringArrayVar(&claims, "claim", nil, "claim extra k=v (repetible)")
	_ = sign.MarkFlagRequired("sub")

	tokenCmd.AddCommand(sign)
	return tokenCmd
}

func parseClaims(kv []string) (map[string]any, error) {
	out := make(map[string]any, len(kv))
	for _, s := range kv {
		k, v, ok := strings.Cut(s, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("--claim %q: se espera k=v", s)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
