package processor

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collector/app/storage"
)

var ErrUnknownProcessor = errors.New("unknown processor")

// Dependencies are the shared collaborators handed to every factory.
type Dependencies struct {
	Storage      storage.Client
	Pending      PendingSource
	FlushEnabled bool
	Logger       logrus.FieldLogger
}

// Factory builds one processor instance.
type Factory func(deps Dependencies) (Processor, error)

// BindingError records a configured identifier that produced no processor.
type BindingError struct {
	Identifier string
	Err        error
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("bind processor %q: %v", e.Identifier, e.Err)
}

func (e *BindingError) Unwrap() error {
	return e.Err
}

// Registry maps processor identifiers to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in processor.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(FilesystemName, newFilesystemFromDeps)
	_ = r.Register(NoopName, func(Dependencies) (Processor, error) {
		return NewNoopProcessor(), nil
	})
	return r
}

// Register adds a factory under identifier.
func (r *Registry) Register(identifier string, factory Factory) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return errors.New("processor identifier is required")
	}
	if factory == nil {
		return fmt.Errorf("processor %q: factory is nil", identifier)
	}
	if _, exists := r.factories[identifier]; exists {
		return fmt.Errorf("processor %q already registered", identifier)
	}
	r.factories[identifier] = factory
	return nil
}

// Identifiers lists registered identifiers in sorted order.
func (r *Registry) Identifiers() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Build instantiates every identifier of the comma-delimited list once.
// Identifiers that cannot be bound are logged and returned as *BindingError;
// they never prevent the remaining identifiers from being bound.
func (r *Registry) Build(identifiers string, deps Dependencies) (*Set, []error) {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "processor-registry")

	var (
		processors []Processor
		errs       []error
	)
	seen := make(map[string]struct{})
	for _, raw := range strings.Split(identifiers, ",") {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			logger.WithField("identifier", id).Warn("duplicate processor identifier ignored")
			continue
		}
		seen[id] = struct{}{}

		p, err := r.bind(id, deps)
		if err != nil {
			bindErr := &BindingError{Identifier: id, Err: err}
			logger.WithError(err).WithField("identifier", id).Error("unable to bind processor")
			errs = append(errs, bindErr)
			continue
		}
		logger.WithFields(logrus.Fields{"identifier": id, "processor": p.Name()}).Info("processor registered")
		processors = append(processors, p)
	}

	return NewSet(processors...), errs
}

func (r *Registry) bind(id string, deps Dependencies) (p Processor, err error) {
	factory, ok := r.factories[id]
	if !ok {
		return nil, ErrUnknownProcessor
	}
	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, fmt.Errorf("factory panicked: %v", rec)
		}
	}()
	p, err = factory(deps)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.New("factory returned no processor")
	}
	return p, nil
}

func newFilesystemFromDeps(deps Dependencies) (Processor, error) {
	if deps.Storage == nil {
		return nil, errors.New("storage client is not configured")
	}
	return NewFilesystemProcessor(deps.Storage, deps.Pending, deps.FlushEnabled, deps.Logger), nil
}

// Set is the immutable collection of active processors.
type Set struct {
	processors []Processor
}

// NewSet wraps processors into a Set.
func NewSet(processors ...Processor) *Set {
	copied := make([]Processor, len(processors))
	copy(copied, processors)
	return &Set{processors: copied}
}

// Processors returns a copy of the active processors.
func (s *Set) Processors() []Processor {
	out := make([]Processor, len(s.processors))
	copy(out, s.processors)
	return out
}

// Get finds a processor by Name.
func (s *Set) Get(name string) (Processor, bool) {
	for _, p := range s.processors {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Names lists processor names in registration order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.processors))
	for _, p := range s.processors {
		names = append(names, p.Name())
	}
	return names
}

func (s *Set) Len() int {
	return len(s.processors)
}
