// Package analognode implements the analog node variant (spec §4.3): nodes
// carrying continuous-valued state, advanced by a fixed timestep integrator.
// Grounded on ProtoVM/AnalogDifferentialEquations.{h,cpp}; the specific
// circuit families (RC, RLC, Van der Pol, ...) are catalog material per
// spec §1 Non-goals — this package provides the integrator contract and one
// representative model (RC low-pass) to exercise it.
package analognode

import (
	"encoding/binary"
	"io"
	"math"

	"boardsim/internal/sim/node"
)

// Derivative computes the derivative of state at time t, given the current
// input signal. Concrete models close over their own parameters.
type Derivative func(t float64, state []float64, input float64) []float64

// Integrator advances a state vector by one timestep.
type Integrator int

const (
	IntegratorRK4 Integrator = iota
	IntegratorEuler
)

// Node is an analog simulation element whose Tick advances a state vector
// by a fixed timestep using a fourth-order Runge-Kutta integrator by
// default, with Euler available as a test fallback (spec §4.3).
type Node struct {
	*node.Base
	integrator Integrator
	deriv      Derivative
	state      []float64
	timeStep   float64
	simTime    float64
	input      float64
	output     float64
	outputIdx  int // index into state used as the node's output
}

// Config configures one analog node instance (spec §9 design note: explicit
// Config struct threaded to constructors, avoiding silent sample-rate
// mismatches when mixing analog and digital nodes at different rates).
type Config struct {
	TimeStep   float64 // default: inverse of audio sample rate
	Integrator Integrator
	OutputIdx  int
}

// DefaultSampleRate matches the original's default (44.1kHz audio rate).
const DefaultSampleRate = 44100.0

func NewNode(id string, initialState []float64, deriv Derivative, cfg Config) *Node {
	if cfg.TimeStep <= 0 {
		cfg.TimeStep = 1.0 / DefaultSampleRate
	}
	st := make([]float64, len(initialState))
	copy(st, initialState)
	return &Node{
		Base: node.NewBase(id, "AnalogNode", []node.ConnectorDecl{
			{Name: "in", Role: node.RoleSink, WidthBits: 0},
			{Name: "out", Role: node.RoleSource, MultiAllowed: true, WidthBits: 0},
		}),
		integrator: cfg.Integrator,
		deriv:      deriv,
		state:      st,
		timeStep:   cfg.TimeStep,
		outputIdx:  cfg.OutputIdx,
	}
}

// Put accepts a floating-point value on the sink connector (spec §4.3: an
// analog node's Put accepts a float instead of, or in addition to, bits).
func (n *Node) Put(connID int, v node.Value) error {
	conn, fault := n.CheckConn(connID)
	if fault != nil {
		return fault
	}
	if conn.Name != "in" {
		return &node.Fault{Kind: node.FaultWriteToNonSource, NodeID: n.ID(), ConnID: connID, Message: "put on non-sink connector"}
	}
	n.input = v.Analog
	return nil
}

// Tick advances the state vector by one timestep using the configured
// integrator. Idempotent if called twice without Put changing the input is
// NOT guaranteed for continuous dynamics in general (the state genuinely
// evolves with time even under a constant input) — the per-tick contract
// here is "deterministic given (state, input, dt)", which is what spec §4.1
// actually requires for reproducibility; true idempotence only holds at a
// fixed point of the ODE.
func (n *Node) Tick() error {
	switch n.integrator {
	case IntegratorEuler:
		n.solveEuler()
	default:
		n.solveRK4()
	}
	n.simTime += n.timeStep
	if n.outputIdx >= 0 && n.outputIdx < len(n.state) {
		n.output = n.state[n.outputIdx]
	}
	return nil
}

func (n *Node) solveEuler() {
	d := n.deriv(n.simTime, n.state, n.input)
	for i := range n.state {
		n.state[i] += d[i] * n.timeStep
	}
}

// solveRK4 is the classic fourth-order Runge-Kutta step over the node's
// state vector, grounded on AnalogDifferentialEquation::SolveRK4.
func (n *Node) solveRK4() {
	dt := n.timeStep
	k1 := n.deriv(n.simTime, n.state, n.input)
	k2 := n.deriv(n.simTime+dt/2, addScaled(n.state, k1, dt/2), n.input)
	k3 := n.deriv(n.simTime+dt/2, addScaled(n.state, k2, dt/2), n.input)
	k4 := n.deriv(n.simTime+dt, addScaled(n.state, k3, dt), n.input)
	for i := range n.state {
		n.state[i] += (dt / 6) * (k1[i] + 2*k2[i] + 2*k3[i] + k4[i])
	}
}

func addScaled(base, delta []float64, scale float64) []float64 {
	out := make([]float64, len(base))
	for i := range base {
		out[i] = base[i] + delta[i]*scale
	}
	return out
}

func (n *Node) Process(kind node.ProcessKind, connID int, target node.Node, targetConnID int) error {
	if kind != node.ProcessWrite {
		return nil
	}
	conn, fault := n.CheckConn(connID)
	if fault != nil {
		return fault
	}
	if conn.Name != "out" {
		return &node.Fault{Kind: node.FaultWriteToNonSource, NodeID: n.ID(), ConnID: connID, Message: "process-write from non-source connector"}
	}
	return target.Put(targetConnID, node.Value{Analog: n.output, IsAnalog: true})
}

// State returns a copy of the node's current state vector, for tests.
func (n *Node) State() []float64 {
	out := make([]float64, len(n.state))
	copy(out, n.state)
	return out
}

// HashState writes the analog node's output-visible state for
// Machine.GetStateHash.
func (n *Node) HashState(w io.Writer) {
	for _, v := range n.state {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = w.Write(buf[:])
	}
}

// EncodeState/DecodeState implement the snapshot StateCodec contract: an
// analog node's full restorable state is its integrated state vector plus
// simTime/input/output, the genuinely time-integrated quantities a fresh
// materialization from the circuit model cannot reconstruct (e.g. a
// capacitor's accumulated voltage under RK4).
func (n *Node) EncodeState() []byte {
	buf := make([]byte, 8*len(n.state)+24)
	for i, v := range n.state {
		binary.LittleEndian.PutUint64(buf[8*i:8*i+8], math.Float64bits(v))
	}
	off := 8 * len(n.state)
	binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(n.simTime))
	binary.LittleEndian.PutUint64(buf[off+8:off+16], math.Float64bits(n.input))
	binary.LittleEndian.PutUint64(buf[off+16:off+24], math.Float64bits(n.output))
	return buf
}

func (n *Node) DecodeState(data []byte) error {
	want := 8*len(n.state) + 24
	if len(data) != want {
		return &node.Fault{Kind: node.FaultInternal, NodeID: n.ID(), Message: "analog node state blob has the wrong length"}
	}
	for i := range n.state {
		n.state[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i : 8*i+8]))
	}
	off := 8 * len(n.state)
	n.simTime = math.Float64frombits(binary.LittleEndian.Uint64(data[off : off+8]))
	n.input = math.Float64frombits(binary.LittleEndian.Uint64(data[off+8 : off+16]))
	n.output = math.Float64frombits(binary.LittleEndian.Uint64(data[off+16 : off+24]))
	return nil
}

// RCLowPassDerivative builds a Derivative for a single-pole RC low-pass
// filter: state[0] is the capacitor voltage, input is the source voltage.
func RCLowPassDerivative(rc float64) Derivative {
	return func(_ float64, state []float64, input float64) []float64 {
		return []float64{(input - state[0]) / rc}
	}
}
