package hive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// SnapshotVersion is the current snapshot schema version. Restore accepts
// any snapshot with the same major version.
const SnapshotVersion = "2.1.0"

// SDKVersion identifies the library build that produced a snapshot.
const SDKVersion = "1.0.0"

// Snapshot is a complete, self-contained serialization of an
// orchestration's mutable state: every instance conversation and agent
// context, both storages, the read tracker, plugin state, and the
// workflow cursor. Definitions are not included; a snapshot restores into
// a freshly built orchestration with the same configuration.
type Snapshot struct {
	Version    string `json:"version"`
	Type       string `json:"type"` // "swarm" or "workflow"
	SnapshotAt int64  `json:"snapshot_at"`
	SDKVersion string `json:"sdk_version"`

	Metadata SnapshotMetadata `json:"metadata"`

	// Agents holds the primary instances keyed by agent name;
	// DelegationInstances holds the "<target>@<delegator>" conversations.
	Agents              map[string]AgentSnapshot `json:"agents"`
	DelegationInstances map[string]AgentSnapshot `json:"delegation_instances,omitempty"`

	Scratchpad   *ScratchpadSnapshot          `json:"scratchpad,omitempty"`
	Memory       []Entry                      `json:"memory,omitempty"`
	ReadTracking map[string]map[string]string `json:"read_tracking,omitempty"`

	PluginStates map[string]map[string]json.RawMessage `json:"plugin_states,omitempty"`

	Workflow *WorkflowState `json:"workflow,omitempty"`
}

// SnapshotMetadata identifies the orchestration a snapshot came from.
type SnapshotMetadata struct {
	ID               string `json:"id"`
	ParentID         string `json:"parent_id,omitempty"`
	Name             string `json:"name"`
	FirstMessageSent bool   `json:"first_message_sent"`
}

// ScratchpadSnapshot carries the working store's entries. Shared is true
// when all agents write to one store, the mode the swarm runs today.
type ScratchpadSnapshot struct {
	Shared bool    `json:"shared"`
	Data   []Entry `json:"data"`
}

// AgentSnapshot is one instance's conversation, context, and effective
// system prompt.
type AgentSnapshot struct {
	Conversation []Message     `json:"conversation"`
	Context      *AgentContext `json:"context_state"`
	SystemPrompt string        `json:"system_prompt,omitempty"`
}

// WorkflowState is the workflow-specific portion of a snapshot.
type WorkflowState struct {
	Cursor  int               `json:"cursor"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// StateExporter is implemented by storages that can dump and reload their
// full entry set. The in-memory scratchpad and all store backends
// implement it; storages that do not are skipped by the snapshot engine.
type StateExporter interface {
	Export() []Entry
	Restore(entries []Entry)
}

// SnapshotStore persists snapshots keyed by Metadata.ID. store/sqlite and
// store/postgres implement it.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context, swarmID string) (Snapshot, error)
}

// TakeSnapshot serializes an orchestration's current state. The caller
// must ensure no execution is in flight.
func TakeSnapshot(o Orchestration) (Snapshot, error) {
	var swarm *Swarm
	var workflow *Workflow
	switch v := o.(type) {
	case *Swarm:
		swarm = v
	case *Workflow:
		workflow = v
		swarm = v.swarm
	default:
		return Snapshot{}, Configf("cannot snapshot orchestration type %T", o)
	}

	snap := Snapshot{
		Version:    SnapshotVersion,
		Type:       o.Type(),
		SnapshotAt: NowUnix(),
		SDKVersion: SDKVersion,
		Metadata: SnapshotMetadata{
			ID:               o.ID(),
			ParentID:         swarm.cfg.ParentSwarmID,
			Name:             swarm.Name(),
			FirstMessageSent: swarm.firstMessageSent(),
		},
		Agents: make(map[string]AgentSnapshot),
	}

	var agents []string
	for instance, engine := range swarm.instances() {
		as := AgentSnapshot{
			Conversation: engine.Conversation(),
			Context:      engine.Context(),
			SystemPrompt: engine.SystemPrompt(),
		}
		if strings.Contains(instance, "@") {
			if snap.DelegationInstances == nil {
				snap.DelegationInstances = make(map[string]AgentSnapshot)
			}
			snap.DelegationInstances[instance] = as
		} else {
			snap.Agents[instance] = as
		}
		agents = append(agents, engine.Definition().Name)
	}
	if exp, ok := swarm.scratchpad.(StateExporter); ok {
		snap.Scratchpad = &ScratchpadSnapshot{Shared: true, Data: exp.Export()}
	}
	if exp, ok := swarm.memory.(StateExporter); ok {
		snap.Memory = exp.Export()
	}
	snap.ReadTracking = swarm.readTrack.Export()

	if swarm.cfg.Plugins != nil {
		states, err := swarm.cfg.Plugins.ExportStates(agents)
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot plugin state: %w", err)
		}
		if len(states) > 0 {
			snap.PluginStates = states
		}
	}

	if workflow != nil {
		outputs := make(map[string]string, len(workflow.outputs))
		for k, v := range workflow.outputs {
			outputs[k] = v
		}
		snap.Workflow = &WorkflowState{Cursor: workflow.cursor, Outputs: outputs}
	}
	return snap, nil
}

// RestoreSnapshot installs a snapshot into a freshly built orchestration
// of the same type. The orchestration adopts the snapshot's swarm id so
// subsequent events and snapshots stay in one lineage.
func RestoreSnapshot(ctx context.Context, o Orchestration, snap Snapshot) error {
	if err := checkSnapshotVersion(snap.Version); err != nil {
		return err
	}
	if snap.Type != o.Type() {
		return Configf("snapshot type %q does not match orchestration type %q", snap.Type, o.Type())
	}

	var swarm *Swarm
	var workflow *Workflow
	switch v := o.(type) {
	case *Swarm:
		swarm = v
	case *Workflow:
		workflow = v
		swarm = v.swarm
	default:
		return Configf("cannot restore into orchestration type %T", o)
	}

	swarm.restoreIdentity(snap.Metadata)

	// Storages and tracker first: restored conversations may reference
	// scratchpad paths, and restored engines may load skills from memory.
	if exp, ok := swarm.scratchpad.(StateExporter); ok && snap.Scratchpad != nil {
		exp.Restore(snap.Scratchpad.Data)
	}
	if exp, ok := swarm.memory.(StateExporter); ok && snap.Memory != nil {
		exp.Restore(snap.Memory)
	}
	if snap.ReadTracking != nil {
		swarm.readTrack.Restore(snap.ReadTracking)
	}
	if swarm.cfg.Plugins != nil && snap.PluginStates != nil {
		if err := swarm.cfg.Plugins.RestoreStates(snap.PluginStates); err != nil {
			return fmt.Errorf("restore plugin state: %w", err)
		}
	}

	for instance, as := range snap.Agents {
		if err := swarm.restoreEngine(ctx, instance, as.Conversation, as.Context); err != nil {
			return fmt.Errorf("restore instance %q: %w", instance, err)
		}
	}
	for instance, as := range snap.DelegationInstances {
		if err := swarm.restoreEngine(ctx, instance, as.Conversation, as.Context); err != nil {
			return fmt.Errorf("restore instance %q: %w", instance, err)
		}
	}

	if workflow != nil && snap.Workflow != nil {
		workflow.cursor = snap.Workflow.Cursor
		if workflow.cursor < 0 || workflow.cursor > len(workflow.steps) {
			return Configf("snapshot workflow cursor %d out of range", snap.Workflow.Cursor)
		}
		workflow.outputs = make(map[string]string, len(snap.Workflow.Outputs))
		for k, v := range snap.Workflow.Outputs {
			workflow.outputs[k] = v
		}
	}
	return nil
}

func checkSnapshotVersion(version string) error {
	major, _, ok := strings.Cut(version, ".")
	wantMajor, _, _ := strings.Cut(SnapshotVersion, ".")
	if !ok || major != wantMajor {
		return Configf("unsupported snapshot version %q (supported: %s.x)", version, wantMajor)
	}
	return nil
}

// WriteSnapshotFile serializes a snapshot as indented JSON to path.
func WriteSnapshotFile(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ReadSnapshotFile loads a snapshot previously written by
// WriteSnapshotFile.
func ReadSnapshotFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", path, err)
	}
	if snap.Version == "" {
		return Snapshot{}, Configf("snapshot %s has no version", path)
	}
	return snap, nil
}
