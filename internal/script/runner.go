// Package script executes per-entity behavior scripts on the tick.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/scaleworld/client/internal/apply"
	"github.com/scaleworld/client/internal/entity"
)

// behavior is a script-registered handler set for one entity kind.
type behavior struct {
	onCreate   *lua.LFunction
	onInterval *lua.LFunction
	interval   float64
}

// binding schedules one live entity against its kind's behavior.
type binding struct {
	kind      entity.Kind
	behavior  *behavior
	lastRunAt float64
	ranCreate bool
}

// Runner wraps a single gopher-lua VM for entity behavior execution.
// Single-goroutine access only (tick loop). Scripts never mutate records
// directly: the move_entity builtin routes through the diff applier, the same
// versioned path remote peers use.
type Runner struct {
	vm      *lua.LState
	log     *zap.Logger
	reg     *entity.Registry
	applier *apply.Applier

	behaviors map[entity.Kind]*behavior
	bindings  map[string]*binding
	disabled  map[string]bool

	clock  float64 // seconds since start, advanced by Step
	faults uint64
}

// NewRunner creates the Lua VM, installs the host API, and loads every .lua
// file under scriptsDir (missing dir is fine: a client with no behaviors).
func NewRunner(scriptsDir string, reg *entity.Registry, applier *apply.Applier, log *zap.Logger) (*Runner, error) {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	r := &Runner{
		vm:        vm,
		log:       log,
		reg:       reg,
		applier:   applier,
		behaviors: make(map[entity.Kind]*behavior),
		bindings:  make(map[string]*binding),
		disabled:  make(map[string]bool),
	}
	vm.SetGlobal("register_behavior", vm.NewFunction(r.luaRegisterBehavior))
	vm.SetGlobal("move_entity", vm.NewFunction(r.luaMoveEntity))
	vm.SetGlobal("log_info", vm.NewFunction(r.luaLogInfo))

	if err := r.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load behavior scripts: %w", err)
	}
	return r, nil
}

// Close releases the VM.
func (r *Runner) Close() { r.vm.Close() }

// LoadString executes a script source directly. Used by tests and the debug
// console.
func (r *Runner) LoadString(src string) error { return r.vm.DoString(src) }

// GlobalNumber reads a numeric VM global, 0 when unset or not a number.
func (r *Runner) GlobalNumber(name string) float64 {
	if n, ok := r.vm.GetGlobal(name).(lua.LNumber); ok {
		return float64(n)
	}
	return 0
}

// Faults returns the number of script faults since start.
func (r *Runner) Faults() uint64 { return r.faults }

// Clock returns the runner's monotonic script time in seconds.
func (r *Runner) Clock() float64 { return r.clock }

func (r *Runner) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := r.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		r.log.Debug("loaded behavior script", zap.String("file", path))
	}
	return nil
}

// Bind attaches a live entity to its kind's registered behavior, if any.
// Called from the Live lifecycle event.
func (r *Runner) Bind(id string) {
	rec, err := r.reg.Get(id)
	if err != nil {
		return
	}
	b, ok := r.behaviors[rec.Kind]
	if !ok {
		return
	}
	if _, bound := r.bindings[id]; bound {
		return // already live once; onCreate ran then
	}
	r.bindings[id] = &binding{kind: rec.Kind, behavior: b, lastRunAt: r.clock}
}

// Remove drops an entity's binding and fault flag. The registry calls this
// synchronously on Delete.
func (r *Runner) Remove(id string) {
	delete(r.bindings, id)
	delete(r.disabled, id)
}

// Step advances script time by dt and runs due handlers. onCreate runs
// exactly once per binding; onInterval runs at most once per tick per entity
// regardless of how many intervals elapsed — catch-up bursts would blow the
// tick budget. A script error disables only that entity's remaining bindings
// for the session.
func (r *Runner) Step(dt time.Duration) {
	r.clock += dt.Seconds()
	now := r.clock
	for id, b := range r.bindings {
		if r.disabled[id] {
			continue
		}
		if !b.ranCreate {
			b.ranCreate = true
			b.lastRunAt = now
			if b.behavior.onCreate != nil {
				r.call(id, b.behavior.onCreate)
			}
			continue
		}
		if b.behavior.onInterval == nil {
			continue
		}
		if now-b.lastRunAt >= b.behavior.interval {
			b.lastRunAt = now
			r.call(id, b.behavior.onInterval)
		}
	}
}

// call invokes a handler with the entity's current state. Errors are
// isolated: logged, counted, and the entity's bindings disabled.
func (r *Runner) call(id string, fn *lua.LFunction) {
	rec, err := r.reg.Get(id)
	if err != nil {
		return // destroyed between dispatch and script pass
	}
	if err := r.vm.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, r.entityTable(rec)); err != nil {
		r.faults++
		r.disabled[id] = true
		r.log.Error("script fault, entity bindings disabled",
			zap.String("entity", id),
			zap.String("kind", string(rec.Kind)),
			zap.Error(err))
	}
}

// entityTable packs a record snapshot into a Lua table.
func (r *Runner) entityTable(rec entity.Record) *lua.LTable {
	t := r.vm.NewTable()
	t.RawSetString("id", lua.LString(rec.ID))
	t.RawSetString("kind", lua.LString(string(rec.Kind)))
	t.RawSetString("x", lua.LNumber(rec.Position.X))
	t.RawSetString("y", lua.LNumber(rec.Position.Y))
	t.RawSetString("z", lua.LNumber(rec.Position.Z))
	t.RawSetString("scale", lua.LNumber(rec.Scale))
	t.RawSetString("version", lua.LNumber(rec.Version))
	t.RawSetString("now", lua.LNumber(r.clock))
	return t
}

// --- host API exposed to Lua ---

// register_behavior(kind, {on_create=fn, on_interval=fn, interval_seconds=n})
func (r *Runner) luaRegisterBehavior(L *lua.LState) int {
	kind := entity.Kind(L.CheckString(1))
	if !kind.Valid() {
		L.RaiseError("unknown entity kind %q", string(kind))
		return 0
	}
	tbl := L.CheckTable(2)
	b := &behavior{interval: 1.0}
	if fn, ok := tbl.RawGetString("on_create").(*lua.LFunction); ok {
		b.onCreate = fn
	}
	if fn, ok := tbl.RawGetString("on_interval").(*lua.LFunction); ok {
		b.onInterval = fn
	}
	if n, ok := tbl.RawGetString("interval_seconds").(lua.LNumber); ok && float64(n) > 0 {
		b.interval = float64(n)
	}
	r.behaviors[kind] = b
	return 0
}

// move_entity(id, x, y, z) submits a position diff against the entity's
// current version. A rejection means a remote writer won the race; the next
// interval recomputes from fresh state, so no rebase loop is needed here.
func (r *Runner) luaMoveEntity(L *lua.LState) int {
	id := L.CheckString(1)
	pos := entity.Vec3{
		X: float64(L.CheckNumber(2)),
		Y: float64(L.CheckNumber(3)),
		Z: float64(L.CheckNumber(4)),
	}
	version, err := r.reg.Version(id)
	if err != nil {
		L.Push(lua.LFalse)
		return 1
	}
	r.applier.IngestLocal(entity.Diff{
		Op:          entity.OpUpdate,
		EntityID:    id,
		BaseVersion: version,
		Fields:      entity.FieldSet{Position: &pos},
	}, r)
	L.Push(lua.LTrue)
	return 1
}

func (r *Runner) luaLogInfo(L *lua.LState) int {
	r.log.Info("script: " + L.CheckString(1))
	return 0
}

// Rejected implements apply.Origin for script-submitted diffs.
func (r *Runner) Rejected(d entity.Diff, err error) {
	r.log.Debug("script diff rejected",
		zap.String("entity", d.EntityID),
		zap.Error(err))
}
