package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/hellogate/internal/tlsx"
)

func newCertCmd() *cobra.Command {
	certCmd := &cobra.Command{Use: "cert", Short: "Operaciones sobre certificados TLS"}

	var (
		certFile, keyFile string
		minValidity       time.Duration
	)
	check := &cobra.Command{
		Use:   "check",
		Short: "Valida un par cert/key como lo haría el gateway antes de instalarlo",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := tlsx.LoadIdentityFiles(certFile, keyFile)
			if err != nil {
				return err
			}
			leaf := id.Leaf()
			left := time.Until(leaf.NotAfter)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "subject:    %s\n", leaf.Subject.String())
			fmt.Fprintf(w, "issuer:     %s\n", leaf.Issuer.String())
			fmt.Fprintf(w, "dns names:  %s\n", strings.Join(leaf.DNSNames, ", "))
			fmt.Fprintf(w, "not before: %s\n", leaf.NotBefore.UTC().Format(time.RFC3339))
			fmt.Fprintf(w, "not after:  %s (%s left)\n", leaf.NotAfter.UTC().Format(time.RFC3339), left.Round(time.Hour))
			fmt.Fprintf(w, "chain:      %d certificate(s)\n", len(id.Chain()))

			if time.Now().Before(leaf.NotBefore) {
				return fmt.Errorf("certificate not valid before %s", leaf.NotBefore.UTC().Format(time.RFC3339))
			}
			if left < minValidity {
				return fmt.Errorf("certificate expires in %s (minimum %s)", left.Round(time.Minute), minValidity)
			}
			return nil
		},
	}
	check.Flags().StringVar(&certFile, "cert", envOr("TLS_CERT_FILE", ""), "certificado PEM (env TLS_CERT_FILE)")
	check.Flags().StringVar(&keyFile, "key", envOr("TLS_KEY_FILE", ""), "clave privada PEM (env TLS_KEY_FILE)")
	check.Flags().DurationVar(&minValidity, "min-validity", 0, "falla si al certificado le queda menos que esto")

	certCmd.AddCommand(check)
	certCmd.AddCommand(newCertInstallCmd())
	return certCmd
}

func newCertInstallCmd() *cobra.Command {
	var fromCert, fromKey, certFile, keyFile string
	install := &cobra.Command{
		Use:   "install",
		Short: "Valida un par nuevo y lo escribe atómicamente sobre los paths vigilados por serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			certPEM, err := os.ReadFile(fromCert)
			if err != nil {
				return err
			}
			keyPEM, err := os.ReadFile(fromKey)
			if err != nil {
				return err
			}
			id, err := tlsx.Install(certFile, keyFile, certPEM, keyPEM)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed %s (not after %s)\n",
				id.Leaf().Subject.String(), id.NotAfter().UTC().Format(time.RFC3339))
			return nil
		},
	}
	install.Flags().StringVar(&fromCert, "from-cert", "", "certificado PEM nuevo")
	install.Flags().StringVar(&fromKey, "from-key", "", "clave privada PEM nueva")
	install.Flags().StringVar(&certFile, "cert", envOr("TLS_CERT_FILE", ""), "destino del certificado (env TLS_CERT_FILE)")
	install.Flags().StringVar(&keyFile, "key", envOr("TLS_KEY_FILE", ""), "destino de la clave (env TLS_KEY_FILE)")
	_ = install.MarkFlagRequired("from-cert")
	_ = install.MarkFlagRequired("from-key")
	return install
}
