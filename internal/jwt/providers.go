package jwt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dropDatabas3/hellogate/internal/metrics"
)

// Provider es un issuer configurado con su propio key set y validator. Rotar o
// perder las claves de un provider no afecta a los demás.
type Provider struct {
	Name      string
	Keys      *KeySetCache
	Validator *Validator
}

// Issuer devuelve el iss que exige el validator del provider.
func (p *Provider) Issuer() string { return p.Validator.cfg.Issuer }

// Providers agrupa los providers por nombre (en orden de configuración) y por issuer.
// ValidateNow elige el provider por el "iss" del token, que todavía no está verificado:
// sólo decide contra qué key set se verifica la firma.
type Providers struct {
	list     []*Provider
	byName   map[string]*Provider
	byIssuer map[string]*Provider
}

func NewProviders(ps ...*Provider) (*Providers, error) {
	if len(ps) == 0 {
		return nil, errors.New("jwt: at least one provider is required")
	}
	out := &Providers{
		byName:   make(map[string]*Provider, len(ps)),
		byIssuer: make(map[string]*Provider, len(ps)),
	}
	for _, p := range ps {
		if p == nil || p.Keys == nil || p.Validator == nil {
			return nil, errors.New("jwt: provider needs a key set and a validator")
		}
		if _, dup := out.byName[p.Name]; dup {
			return nil, fmt.Errorf("jwt: duplicate provider name %q", p.Name)
		}
		if _, dup := out.byIssuer[p.Issuer()]; dup {
			return nil, fmt.Errorf("jwt: duplicate provider issuer %q", p.Issuer())
		}
		out.byName[p.Name] = p
		out.byIssuer[p.Issuer()] = p
		out.list = append(out.list, p)
	}
	return out, nil
}

// Provider busca por nombre.
func (ps *Providers) Provider(name string) (*Provider, bool) {
	p, ok := ps.byName[name]
	return p, ok
}

// All devuelve los providers en orden de configuración.
func (ps *Providers) All() []*Provider {
	return append([]*Provider(nil), ps.list...)
}

// ValidateNow valida token con el provider de su issuer. Con un único provider no
// hay ruteo: un iss ajeno termina en IssuerMismatch como siempre. Con varios, un iss
// sin provider es UnknownKey: no hay key set que pueda verificar la firma.
func (ps *Providers) ValidateNow(token string) Outcome {
	if len(ps.list) == 1 {
		return ps.list[0].Validator.ValidateNow(token)
	}

	p, err := parseCompact(token)
	if err != nil {
		return routed(invalid(Malformed, err))
	}
	prov, ok := ps.byIssuer[p.iss]
	if !ok {
		return routed(invalid(UnknownKey, fmt.Errorf("no provider for iss %.64q", p.iss)))
	}
	return prov.Validator.ValidateNow(token)
}

func routed(out Outcome) Outcome {
	metrics.TokenValidations.WithLabelValues(out.reason.String()).Inc()
	return out
}

// Refresh refresca todos los key sets en paralelo. Un provider caído no impide que
// los demás se instalen; los errores vuelven juntos.
func (ps *Providers) Refresh(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range ps.list {
		wg.Add(1)
		go func(p *Provider) {
			defer wg.Done()
			if err := p.Keys.Refresh(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("provider %s: %w", p.Name, err))
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// TriggerRefresh dispara un refresh en background de cada key set.
func (ps *Providers) TriggerRefresh() {
	for _, p := range ps.list {
		p.Keys.TriggerRefresh()
	}
}
