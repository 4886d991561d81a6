// CLAUDE:SUMMARY Two interchangeable binding strategies: factory-built transport with a manager-owned doc, or caller-owned doc + transport.
package collab

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/docsync/crdt"
	"github.com/hazyhaar/docsync/idgen"
)

// ProviderFactory builds a transport bound to the room id and the replica.
type ProviderFactory func(id string, doc *crdt.Document) (Transport, error)

// Strategy produces the replica and transport a Manager binds to.
type Strategy interface {
	Open(id string) (*crdt.Document, Transport, error)
	// Bootstrap reports whether this session seeds an empty shared document.
	Bootstrap() bool
}

// FactoryStrategy lets the manager own the replica; Factory only supplies
// the transport.
type FactoryStrategy struct {
	Factory         ProviderFactory
	ShouldBootstrap bool
	// Peer names the replica (default: idgen.Peer()).
	Peer string
}

func (s FactoryStrategy) Open(id string) (*crdt.Document, Transport, error) {
	if s.Factory == nil {
		return nil, nil, errors.New("collab: factory strategy without factory")
	}
	peer := s.Peer
	if peer == "" {
		peer = idgen.Peer()
	}
	doc := crdt.New(peer)
	t, err := s.Factory(id, doc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return doc, t, nil
}

func (s FactoryStrategy) Bootstrap() bool { return s.ShouldBootstrap }

// ExplicitStrategy is used when the caller owns the replica, for instance
// when another session on the same host coordinates bootstrap. Transport
// must be bound to Doc.
type ExplicitStrategy struct {
	Doc             *crdt.Document
	Transport       Transport
	ShouldBootstrap bool
}

func (s ExplicitStrategy) Open(string) (*crdt.Document, Transport, error) {
	if s.Doc == nil || s.Transport == nil {
		return nil, nil, errors.New("collab: explicit strategy needs both doc and transport")
	}
	return s.Doc, s.Transport, nil
}

func (s ExplicitStrategy) Bootstrap() bool { return s.ShouldBootstrap }

// Strategy names accepted by NewStrategy.
const (
	StrategyFactory  = "factory"
	StrategyExplicit = "explicit"
)

// NewStrategy selects a strategy by name. For "explicit" the replica is
// created here and handed to factory once, so both variants behave alike.
func NewStrategy(name, id string, factory ProviderFactory, shouldBootstrap bool) (Strategy, error) {
	switch name {
	case "", StrategyFactory:
		return FactoryStrategy{Factory: factory, ShouldBootstrap: shouldBootstrap}, nil
	case StrategyExplicit:
		if factory == nil {
			return nil, errors.New("collab: explicit strategy without factory")
		}
		doc := crdt.New(idgen.Peer())
		t, err := factory(id, doc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return ExplicitStrategy{Doc: doc, Transport: t, ShouldBootstrap: shouldBootstrap}, nil
	default:
		return nil, fmt.Errorf("collab: unknown strategy %q", name)
	}
}
