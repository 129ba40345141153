package storage

import "fmt"

// Version is a {major, minor} storage version tag, §4.1.
type Version struct {
	Major uint32
	Minor uint32
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// CodeStateVersion and CodeBlocksVersion are the versions this binary
// knows how to read/write. Bumped by hand when the on-disk format changes.
var (
	CodeStateVersion  = Version{Major: 1, Minor: 2}
	CodeBlocksVersion = Version{Major: 1, Minor: 1}
)

// Scope controls which tables a storage.Env exposes. §4.1/§6: under
// StateOnly, events/transaction_hash_to_idx/transaction_metadata are
// forbidden. The scope may transition FullArchive -> StateOnly (deleting
// the blocks version) but never the reverse.
type Scope int

const (
	ScopeFullArchive Scope = iota
	ScopeStateOnly
)

func (s Scope) String() string {
	if s == ScopeStateOnly {
		return "StateOnly"
	}
	return "FullArchive"
}

// forbiddenInStateOnly lists the tables §6 forbids under StateOnly scope.
var forbiddenInStateOnly = map[string]bool{
	"events":                   true,
	"transaction_hash_to_idx":  true,
	"transaction_metadata":     true,
}

func (e *Env) checkScope(table string) error {
	if e.scope == ScopeStateOnly && forbiddenInStateOnly[table] {
		return &ErrScope{Reason: fmt.Sprintf("table %q forbidden under StateOnly scope", table)}
	}
	return nil
}

// versions is the on-disk {state, blocks} version pair persisted under
// tableVersion.
type versions struct {
	State       Version
	BlocksSet   bool
	Blocks      Version
}

// initOrCheckVersions implements §4.1/§8: on first open, initialize to the
// code versions; on subsequent opens, fail if the stored major differs
// from the code major, and upgrade the stored minor if the code minor is
// higher.
func (e *Env) initOrCheckVersions() error {
	snap, err := e.kv.NewSnapshot()
	if err != nil {
		return err
	}
	raw, err := snap.Get(tableVersion)
	snap.Release()

	if err == ErrNotFound {
		vs := versions{State: CodeStateVersion}
		if e.scope == ScopeFullArchive {
			vs.BlocksSet = true
			vs.Blocks = CodeBlocksVersion
		}
		return e.writeVersions(vs)
	}
	if err != nil {
		return &ErrInner{Err: err}
	}

	var vs versions
	if err := decodeGob(raw, &vs); err != nil {
		return &ErrDBInconsistency{Reason: "corrupt version record: " + err.Error()}
	}

	if vs.State.Major != CodeStateVersion.Major {
		return &ErrStorageVersionInconsistency{Component: "state", Stored: vs.State, Code: CodeStateVersion}
	}
	upgraded := false
	if CodeStateVersion.Minor > vs.State.Minor {
		vs.State.Minor = CodeStateVersion.Minor
		upgraded = true
	}

	if e.scope == ScopeFullArchive {
		if vs.BlocksSet {
			if vs.Blocks.Major != CodeBlocksVersion.Major {
				return &ErrStorageVersionInconsistency{Component: "blocks", Stored: vs.Blocks, Code: CodeBlocksVersion}
			}
			if CodeBlocksVersion.Minor > vs.Blocks.Minor {
				vs.Blocks.Minor = CodeBlocksVersion.Minor
				upgraded = true
			}
		} else {
			// StateOnly -> FullArchive is the forbidden reverse transition.
			return &ErrScope{Reason: "cannot transition StateOnly back to FullArchive"}
		}
	} else if vs.BlocksSet {
		// FullArchive -> StateOnly: drop the blocks version permanently.
		vs.BlocksSet = false
		upgraded = true
	}

	if upgraded {
		return e.writeVersions(vs)
	}
	return nil
}

func (e *Env) writeVersions(vs versions) error {
	raw, err := encodeGob(vs)
	if err != nil {
		return err
	}
	b := e.kv.NewBatch()
	if err := b.Put(tableVersion, raw); err != nil {
		return err
	}
	return b.Write()
}
