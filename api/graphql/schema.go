package graphql

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/0xmhha/hellostorage-go/contract"
	"github.com/0xmhha/hellostorage-go/service"
)

// Backend is the application surface the schema resolves against.
// *service.Service implements it.
type Backend interface {
	Contract() common.Address
	Account() common.Address
	CanWrite() bool
	Origin() uint64
	CurrentValue(ctx context.Context) (*service.ValueView, error)
	ReadHistory(ctx context.Context, origin uint64) (*service.HistoryView, error)
	CachedHistory(ctx context.Context, origin *uint64) (*service.HistoryView, error)
	SubmitChange(ctx context.Context, newValue string) (*contract.Confirmation, error)
}

// ExplorerLinker builds explorer links for transaction hashes
type ExplorerLinker interface {
	ExplorerURL(hash common.Hash) string
}

// Schema holds the GraphQL schema
type Schema struct {
	schema  graphql.Schema
	backend Backend
	logger  *zap.Logger
}

// SchemaBuilder helps construct a GraphQL schema using the Builder pattern
type SchemaBuilder struct {
	schema    *Schema
	queries   graphql.Fields
	mutations graphql.Fields
}

// NewSchemaBuilder creates a new schema builder
func NewSchemaBuilder(backend Backend, logger *zap.Logger) *SchemaBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaBuilder{
		schema: &Schema{
			backend: backend,
			logger:  logger,
		},
		queries:   make(graphql.Fields),
		mutations: make(graphql.Fields),
	}
}

// WithQueries adds the read queries
func (b *SchemaBuilder) WithQueries() *SchemaBuilder {
	s := b.schema

	b.queries["contract"] = &graphql.Field{
		Type:    graphql.NewNonNull(contractType),
		Resolve: s.resolveContract,
	}
	b.queries["message"] = &graphql.Field{
		Type:        graphql.NewNonNull(valueType),
		Description: "Current stored message",
		Resolve:     s.resolveMessage,
	}
	b.queries["history"] = &graphql.Field{
		Type:        graphql.NewNonNull(historyType),
		Description: "Message change history, newest first",
		Args: graphql.FieldConfigArgument{
			"origin": &graphql.ArgumentConfig{
				Type:        bigIntType,
				Description: "First block to scan (default: deployment block)",
			},
			"cached": &graphql.ArgumentConfig{
				Type:         graphql.Boolean,
				Description:  "Serve the stored snapshot instead of scanning",
				DefaultValue: false,
			},
		},
		Resolve: s.resolveHistory,
	}
	return b
}

// WithMutations adds setMessage
func (b *SchemaBuilder) WithMutations() *SchemaBuilder {
	s := b.schema

	b.mutations["setMessage"] = &graphql.Field{
		Type:        graphql.NewNonNull(confirmationType),
		Description: "Submit a new message and wait for it to be mined",
		Args: graphql.FieldConfigArgument{
			"message": &graphql.ArgumentConfig{
				Type: graphql.NewNonNull(graphql.String),
			},
		},
		Resolve: s.resolveSetMessage,
	}
	return b
}

// Build creates the final schema
func (b *SchemaBuilder) Build() (*Schema, error) {
	config := graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: b.queries,
		}),
	}
	if len(b.mutations) > 0 {
		config.Mutation = graphql.NewObject(graphql.ObjectConfig{
			Name:   "Mutation",
			Fields: b.mutations,
		})
	}

	schema, err := graphql.NewSchema(config)
	if err != nil {
		return nil, err
	}

	b.schema.schema = schema
	return b.schema, nil
}

// NewSchema creates the full schema
func NewSchema(backend Backend, logger *zap.Logger) (*Schema, error) {
	return NewSchemaBuilder(backend, logger).
		WithQueries().
		WithMutations().
		Build()
}

func (s *Schema) resolveContract(p graphql.ResolveParams) (interface{}, error) {
	result := map[string]interface{}{
		"address":  s.backend.Contract().Hex(),
		"canWrite": s.backend.CanWrite(),
		"origin":   formatUint(s.backend.Origin()),
	}
	if s.backend.CanWrite() {
		result["account"] = s.backend.Account().Hex()
	}
	return result, nil
}

func (s *Schema) resolveMessage(p graphql.ResolveParams) (interface{}, error) {
	view, err := s.backend.CurrentValue(p.Context)
	if err != nil {
		s.logger.Warn("failed to read message", zap.Error(err))
		return nil, err
	}
	return valueToMap(view), nil
}

func (s *Schema) resolveHistory(p graphql.ResolveParams) (interface{}, error) {
	ctx := p.Context

	var origin *uint64
	if originStr, ok := p.Args["origin"].(string); ok && originStr != "" {
		val, err := strconv.ParseUint(originStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid origin format: %w", err)
		}
		origin = &val
	}

	if cached, _ := p.Args["cached"].(bool); cached {
		view, err := s.backend.CachedHistory(ctx, origin)
		if err != nil {
			return nil, err
		}
		return historyToMap(view), nil
	}

	from := s.backend.Origin()
	if origin != nil {
		from = *origin
	}
	view, err := s.backend.ReadHistory(ctx, from)
	if err != nil {
		s.logger.Warn("failed to fetch history", zap.Uint64("origin", from), zap.Error(err))
		return nil, err
	}
	return historyToMap(view), nil
}

func (s *Schema) resolveSetMessage(p graphql.ResolveParams) (interface{}, error) {
	message, ok := p.Args["message"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid message")
	}

	confirmation, err := s.backend.SubmitChange(p.Context, message)
	if err != nil {
		s.logger.Warn("failed to set message", zap.Error(err))
		return nil, err
	}

	var link string
	if linker, ok := s.backend.(ExplorerLinker); ok {
		link = linker.ExplorerURL(confirmation.TxHash)
	}
	return confirmationToMap(confirmation, link), nil
}
