// Package app implements the ServiceBuilder (§4.10): a fluent composition
// that only yields a ServiceContext once every required provider —
// Config, StorageService, VaultService, ActorSystem, Interface — has been
// supplied, plus any number of optional ActorBehavior extensions. It mirrors
// cmd/tempo/app/app.go's role as the composition root, generalized from
// tempo's fixed module graph into the typed builder §9 describes: the
// required-provider set is encoded as a chain of Go types (a "phantom
// builder"), so Build is only a method on the type reachable by calling
// every With* in order — a composition missing a required provider simply
// does not compile, the static-language equivalent §4.10 asks for.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/config"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/credmap"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/guardian"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/storage"
	vaultprovider "github.com/matthew-bram/enterprise-confluent-test-probe-sub006/internal/vault"
)

// Context is the ServiceContext §4.10 describes: the shared, mutable
// composition surface every provider's lifecycle operation reads from and
// writes onto. Providers only append/assign fields during Initialize; no
// provider may rely on a field a later-ordered provider hasn't set yet,
// except through a closure capturing ctx itself and dereferencing it lazily
// (see ActorSystemProvider's executor factory).
type Context struct {
	Config     *config.Config
	Logger     log.Logger
	Registerer prometheus.Registerer

	Staging          *storage.Staging
	StorageTransport storage.Transport
	VaultProvider    vaultprovider.Provider
	RosettaMapping   credmap.RosettaMapping

	Guardian *guardian.Guardian

	Router     *mux.Router
	HTTPServer *http.Server
}

// Provider is the three-operation lifecycle every required provider and
// every optional ActorBehavior extension implements (§4.10):
//
//  1. PreFlight  — stateless validation; may read configuration; must not
//     open network connections.
//  2. Initialize — allocate resources, open connections, register handles.
//  3. FinalCheck  — post-condition assertion.
//
// Any failure at any stage is terminal (§4.10: "No partial recovery").
type Provider interface {
	PreFlight(ctx *Context) error
	Initialize(ctx *Context) error
	FinalCheck(ctx *Context) error
}

func runPhase(ctx *Context, providers []Provider, run func(Provider, *Context) error) error {
	for _, p := range providers {
		if p == nil {
			continue
		}
		if err := run(p, ctx); err != nil {
			return err
		}
	}
	return nil
}

// --- the phantom builder chain -------------------------------------------

// Unbuilt is the entry point: NewBuilder() returns one, and only WithConfig
// is defined on it.
type Unbuilt struct{}

// NewBuilder starts a fresh composition.
func NewBuilder() Unbuilt { return Unbuilt{} }

type configured struct{ cfg Provider }

// WithConfig supplies the required Config provider (§4.10).
func (Unbuilt) WithConfig(p Provider) configured { return configured{cfg: p} }

type storaged struct {
	configured
	storageProvider Provider
}

// WithStorageService supplies the required StorageService provider (§4.10).
func (c configured) WithStorageService(p Provider) storaged {
	return storaged{configured: c, storageProvider: p}
}

type vaulted struct {
	storaged
	vaultProvider Provider
}

// WithVaultService supplies the required VaultService provider (§4.10).
func (s storaged) WithVaultService(p Provider) vaulted {
	return vaulted{storaged: s, vaultProvider: p}
}

type withActorSystem struct {
	vaulted
	actorSystem Provider
	extensions  []Provider
}

// WithActorSystem supplies the required ActorSystem provider (§4.10).
func (v vaulted) WithActorSystem(p Provider) withActorSystem {
	return withActorSystem{vaulted: v, actorSystem: p}
}

// WithExtension registers an optional ActorBehavior extension (§4.10). Any
// number may be added; each runs its full PreFlight/Initialize/FinalCheck
// lifecycle alongside the required providers.
func (a withActorSystem) WithExtension(p Provider) withActorSystem {
	a.extensions = append(a.extensions, p)
	return a
}

// Ready is reached only once every required provider has been supplied; Build
// is the only new method it adds.
type Ready struct {
	withActorSystem
	iface Provider
}

// WithInterface supplies the required Interface provider (§4.10), completing
// the required set and unlocking Build.
func (a withActorSystem) WithInterface(p Provider) Ready {
	return Ready{withActorSystem: a, iface: p}
}

// Build runs every provider's PreFlight, then Initialize, then FinalCheck, in
// the fixed orders §4.10 specifies. Any failure aborts the whole composition
// (§4.10: partially initialized resources may be inconsistent).
func (r Ready) Build(ctx context.Context) (*Context, error) {
	sc := &Context{}

	preFlightOrder := append([]Provider{r.cfg, r.storageProvider, r.vaultProvider}, r.extensions...)
	preFlightOrder = append(preFlightOrder, r.actorSystem, r.iface)
	if err := runPhase(sc, preFlightOrder, Provider.PreFlight); err != nil {
		return nil, fmt.Errorf("preFlight: %w", err)
	}

	initOrder := append([]Provider{r.cfg}, r.extensions...)
	initOrder = append(initOrder, r.actorSystem, r.storageProvider, r.vaultProvider, r.iface)
	if err := runPhase(sc, initOrder, Provider.Initialize); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	finalOrder := append([]Provider{r.cfg}, r.extensions...)
	finalOrder = append(finalOrder, r.actorSystem, r.storageProvider, r.vaultProvider, r.iface)
	if err := runPhase(sc, finalOrder, Provider.FinalCheck); err != nil {
		return nil, fmt.Errorf("finalCheck: %w", err)
	}

	return sc, nil
}
