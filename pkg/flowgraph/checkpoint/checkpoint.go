package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the record layout written by this package. Records of any
// other version are refused on load.
const Version = 2

// Source says which engine step wrote a record.
type Source string

const (
	SourceNode      Source = "node"      // a node finished
	SourceInterrupt Source = "interrupt" // the pass parked before NextNode
	SourceUpdate    Source = "update"    // UpdateState edited the state
)

// Checkpoint is one immutable version of a thread. Stores hold it as the
// JSON produced by Marshal and never look inside.
type Checkpoint struct {
	Version   int       `json:"version"`
	ThreadID  string    `json:"thread_id"`
	NodeID    string    `json:"node_id,omitempty"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`

	State json.RawMessage `json:"state"`

	// NextNode is empty once the thread reached END. With Pending set it is
	// the interrupt node a resume will enter.
	NextNode   string `json:"next_node,omitempty"`
	Pending    bool   `json:"pending,omitempty"`
	PrevNodeID string `json:"prev_node_id,omitempty"`
}

// New builds the record written after nodeID. state is already JSON.
func New(threadID, nodeID string, sequence int, state []byte, nextNode string) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		ThreadID:  threadID,
		NodeID:    nodeID,
		Sequence:  sequence,
		Timestamp: time.Now().UTC(),
		Source:    SourceNode,
		State:     state,
		NextNode:  nextNode,
	}
}

func (c *Checkpoint) WithSource(src Source) *Checkpoint {
	c.Source = src
	return c
}

func (c *Checkpoint) WithPending(pending bool) *Checkpoint {
	c.Pending = pending
	return c
}

func (c *Checkpoint) WithPrevNode(id string) *Checkpoint {
	c.PrevNodeID = id
	return c
}

// Next lists the nodes waiting on a resume: the parked node, or nothing.
func (c *Checkpoint) Next() []string {
	if c.Pending && c.NextNode != "" {
		return []string{c.NextNode}
	}
	return nil
}

func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal decodes a record produced by Marshal.
func Unmarshal(data []byte) (*Checkpoint, error) {
	c := new(Checkpoint)
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return c, nil
}
