package flatbb

import (
	"fmt"

	"github.com/dolthub/swiss"
)

// CommandChunk is a range of commands inside one command buffer. HostBase mirrors the buffer starting
// at GPUBase; the chunk covers [StartOffset, EndOffset) of it.
type CommandChunk struct {
	HostBase    []byte
	GPUBase     uint64
	StartOffset int
	EndOffset   int
}

func (c *CommandChunk) GPUStart() uint64 { return c.GPUBase + uint64(c.StartOffset) }
func (c *CommandChunk) GPUEnd() uint64   { return c.GPUBase + uint64(c.EndOffset) }

func (c *CommandChunk) Contains(address uint64) bool {
	return address >= c.GPUStart() && address < c.GPUEnd()
}

// bytes returns the host copy of the GPU range [from, to), which must lie inside the chunk
func (c *CommandChunk) bytes(from, to uint64) []byte {
	start := int(from - c.GPUBase)
	end := int(to - c.GPUBase)
	if end > len(c.HostBase) {
		panic(fmt.Sprintf("command chunk %s ends past its %d host bytes", c, len(c.HostBase)))
	}
	return c.HostBase[start:end]
}

func (c *CommandChunk) String() string {
	return fmt.Sprintf("%#x[%#x:%#x]", c.GPUBase, c.StartOffset, c.EndOffset)
}

// ChunkQueue holds the command chunks registered for the next flatten. It is consumed with Drain.
type ChunkQueue struct {
	chunks []CommandChunk
}

func (q *ChunkQueue) Push(chunk CommandChunk) {
	q.chunks = append(q.chunks, chunk)
}

func (q *ChunkQueue) Len() int {
	return len(q.chunks)
}

// Chunks returns a copy of the queued chunks in registration order
func (q *ChunkQueue) Chunks() []CommandChunk {
	return append([]CommandChunk(nil), q.chunks...)
}

// Drain returns the queued chunks and leaves the queue empty
func (q *ChunkQueue) Drain() []CommandChunk {
	chunks := q.chunks
	q.chunks = nil
	return chunks
}

// JumpEdge is a batch-buffer-start command at Location that continues execution at Target
type JumpEdge struct {
	Location uint64
	Target   uint64
}

// JumpGraph holds the jumps registered for the next flatten. Each location holds at most one jump;
// registering a location again replaces its target and keeps its original position.
type JumpGraph struct {
	edges []JumpEdge
	index *swiss.Map[uint64, int]
}

func NewJumpGraph() *JumpGraph {
	return &JumpGraph{
		index: swiss.NewMap[uint64, int](16),
	}
}

func (g *JumpGraph) Register(location, target uint64) {
	if i, ok := g.index.Get(location); ok {
		g.edges[i].Target = target
		return
	}

	g.index.Put(location, len(g.edges))
	g.edges = append(g.edges, JumpEdge{Location: location, Target: target})
}

func (g *JumpGraph) Len() int {
	return len(g.edges)
}

// Edges returns a copy of the jumps in registration order
func (g *JumpGraph) Edges() []JumpEdge {
	return append([]JumpEdge(nil), g.edges...)
}

// Drain returns the registered jumps and leaves the graph empty
func (g *JumpGraph) Drain() []JumpEdge {
	edges := g.edges
	g.edges = nil
	g.index = swiss.NewMap[uint64, int](16)
	return edges
}
