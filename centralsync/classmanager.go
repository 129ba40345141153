package centralsync

import (
	"context"

	"github.com/apollo-node/sequencer/common"
)

// ClassManagerClient is the optional external compiler service §4.2
// describes: store_state_diff sends newly declared classes to it before
// writing anything, and store_compiled_class asks it to compile a Sierra
// class when running ahead of CompilerBackwardCompatibility.
type ClassManagerClient interface {
	SendClass(ctx context.Context, h common.ClassHash, sierra []byte) (common.CompiledClassHash, error)
	SendDeprecatedClass(ctx context.Context, h common.ClassHash, bytecode []byte) error
	// AddClassAndExecutableUnsafe asks the manager to compile sierra (of
	// the given version) and register the executable form, §4.2
	// store_compiled_class's non-backward-compatible path.
	AddClassAndExecutableUnsafe(ctx context.Context, h common.ClassHash, sierraVersion common.HashVersion, sierra []byte) error
}

// ErrDuplicateKey is the benign "already compiled" response
// store_compiled_class treats as success, §4.2 and §8 of SPEC_FULL.md.
type ErrDuplicateKey struct{ ClassHash common.ClassHash }

func (e *ErrDuplicateKey) Error() string { return "centralsync: duplicate class manager key" }
