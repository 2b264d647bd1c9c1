package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	jwtx "github.com/dropDatabas3/hellogate/internal/jwt"
)

func newJWKSCmd() *cobra.Command {
	jwksCmd := &cobra.Command{Use: "jwks", Short: "Operaciones sobre documentos JWKS"}

	var (
		url, file, issuer, out string
		timeout                time.Duration
	)
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Descarga (o lee) un JWKS y muestra las claves utilizables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var (
				doc    []byte
				source string
				err    error
			)
			switch {
			case file != "":
				source = file
				doc, err = os.ReadFile(file)
			case url != "":
				src := jwtx.NewHTTPSource(url, &http.Client{Timeout: timeout})
				source = src.Source()
				doc, err = src.FetchDocument(ctx)
			case issuer != "":
				src := jwtx.NewDiscoverySource(issuer, &http.Client{Timeout: timeout}, 0)
				doc, err = src.FetchDocument(ctx)
				source = src.Source()
			default:
				return fmt.Errorf("uno de --url, --issuer o --file es requerido")
			}
			if err != nil {
				return err
			}

			keys, err := jwtx.ParseJWKS(doc)
			if err != nil {
				return err
			}
			set, err := jwtx.NewKeySet(keys, source, time.Now())
			if err != nil {
				return err
			}
			return printKeySet(cmd, set, out)
		},
	}
	inspect.Flags().StringVar(&url, "url", "", "URL del JWKS")
	inspect.Flags().StringVar(&issuer, "issuer", "", "issuer OIDC (usa /.well-known/openid-configuration)")
	inspect.Flags().StringVar(&file, "file", "", "JWKS en disco")
	inspect.Flags().StringVar(&out, "out", "text", "Formato de salida: json|text")
	inspect.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "timeout de la descarga")

	jwksCmd.AddCommand(inspect)
	return jwksCmd
}

type keyView struct {
	KID       string `json:"kid"`
	Alg       string `json:"alg"`
	Class     string `json:"class"`
	NotBefore string `json:"not_before,omitempty"`
	NotAfter  string `json:"not_after,omitempty"`
}

func printKeySet(cmd *cobra.Command, set *jwtx.KeySet, out string) error {
	views := make([]keyView, 0, set.Len())
	for _, kid := range set.KeyIDs() {
		k, _ := set.Lookup(kid)
		v := keyView{KID: k.KeyID, Alg: string(k.Algorithm), Class: k.Class.String()}
		if !k.NotBefore.IsZero() {
			v.NotBefore = k.NotBefore.UTC().Format(time.RFC3339)
		}
		if !k.NotAfter.IsZero() {
			v.NotAfter = k.NotAfter.UTC().Format(time.RFC3339)
		}
		views = append(views, v)
	}

	w := cmd.OutOrStdout()
	if out == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"source": set.Source, "keys": views})
	}

	fmt.Fprintf(w, "source: %s (%d keys)\n", set.Source, len(views))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KID\tALG\tCLASS\tNOT_BEFORE\tNOT_AFTER")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.KID, v.Alg, v.Class, v.NotBefore, v.NotAfter)
	}
	return tw.Flush()
}
