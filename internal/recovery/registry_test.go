package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsodeh/sabi/api/schemas"
)

type noopStrategy struct{}

func (noopStrategy) Execute(context.Context, *schemas.SystemError) (schemas.RecoveryResult, error) {
	return schemas.RecoveryResult{Success: true}, nil
}

func TestRegistryOrdersByProbability(t *testing.T) {
	r := NewRegistry()
	r.Register(schemas.CategoryNetwork, schemas.RecoveryAction{
		ID: "low", Kind: schemas.StrategyRetry, SuccessProbability: 0.2, Strategy: noopStrategy{},
	})
	r.Register(schemas.CategoryNetwork, schemas.RecoveryAction{
		ID: "high", Kind: schemas.StrategyRetry, SuccessProbability: 0.9, Strategy: noopStrategy{},
	})
	r.Register(schemas.CategoryNetwork, schemas.RecoveryAction{
		ID: "mid", Kind: schemas.StrategyRetry, SuccessProbability: 0.5, Strategy: noopStrategy{},
	})

	actions := r.ActionsFor(schemas.CategoryNetwork, []schemas.RecoveryStrategyKind{schemas.StrategyRetry})
	require.Len(t, actions, 3)
	assert.Equal(t, "high", actions[0].ID)
	assert.Equal(t, "mid", actions[1].ID)
	assert.Equal(t, "low", actions[2].ID)
}

func TestRegistryFiltersByDeclaredKinds(t *testing.T) {
	r := NewRegistry()
	r.Register(schemas.CategoryUserInterface, schemas.RecoveryAction{
		ID: "retry", Kind: schemas.StrategyRetry, SuccessProbability: 0.6, Strategy: noopStrategy{},
	})
	r.Register(schemas.CategoryUserInterface, schemas.RecoveryAction{
		ID: "degrade", Kind: schemas.StrategyGracefulDegradation, SuccessProbability: 0.3, Strategy: noopStrategy{},
	})

	only := r.ActionsFor(schemas.CategoryUserInterface, []schemas.RecoveryStrategyKind{schemas.StrategyRetry})
	require.Len(t, only, 1)
	assert.Equal(t, "retry", only[0].ID)

	// An empty (non-nil) declared list admits nothing.
	none := r.ActionsFor(schemas.CategoryUserInterface, []schemas.RecoveryStrategyKind{})
	assert.Empty(t, none)

	// A nil declared list means no filtering.
	all := r.ActionsFor(schemas.CategoryUserInterface, nil)
	assert.Len(t, all, 2)
}

func TestRegistryUnknownCategory(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.ActionsFor(schemas.CategorySystem, nil))
}

func TestRegistryCategoriesSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(schemas.CategoryUserInterface, schemas.RecoveryAction{ID: "a", Strategy: noopStrategy{}})
	r.Register(schemas.CategoryAuthentication, schemas.RecoveryAction{ID: "b", Strategy: noopStrategy{}})
	r.Register(schemas.CategoryNetwork, schemas.RecoveryAction{ID: "c", Strategy: noopStrategy{}})

	assert.Equal(t, []schemas.ErrorCategory{
		schemas.CategoryAuthentication,
		schemas.CategoryNetwork,
		schemas.CategoryUserInterface,
	}, r.Categories())
}
