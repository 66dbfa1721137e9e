package persistence

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samuel/go-zookeeper/zk"
	"github.com/spoutworks/sideline-client/sideline"
)

func init() {
	sideline.RegisterPersistenceAdapter("zookeeper", func() sideline.PersistenceAdapter {
		return NewZooKeeper()
	})
}

const (
	defaultZkRoot           = "/sideline-consumers"
	defaultZkSessionTimeout = 6 * time.Second
)

// ZooKeeper stores consumer state and sideline request bounds as JSON
// node bodies in a ZooKeeper ensemble. Layout:
//
//	{root}/consumers/{consumerID}               -> ConsumerState JSON
//	{root}/sidelines/{requestID}/{ns}-{p}       -> {"endingOffset": n}
type ZooKeeper struct {
	conn *zk.Conn
	root string
}

// NewZooKeeper returns an unopened adapter.
func NewZooKeeper() *ZooKeeper {
	return &ZooKeeper{root: defaultZkRoot}
}

// Open connects to the ensemble named by persistence.zk.servers.
func (z *ZooKeeper) Open(cfg sideline.Config) error {
	servers := cfg.StringSlice(sideline.CfgZkServers)
	if len(servers) == 0 {
		return errors.New("no zookeeper servers configured")
	}
	z.root = cfg.String(sideline.CfgZkRoot, defaultZkRoot)
	timeout := time.Duration(cfg.Int64(sideline.CfgZkSessionTimeoutMs, int64(defaultZkSessionTimeout/time.Millisecond))) * time.Millisecond
	conn, _, err := zk.Connect(servers, timeout)
	if err != nil {
		return errors.Wrap(err, "zookeeper connect failed")
	}
	z.conn = conn
	return nil
}

// Close releases the ensemble connection.
func (z *ZooKeeper) Close() error {
	if z.conn != nil {
		z.conn.Close()
		z.conn = nil
	}
	return nil
}

// PersistConsumerState stores the snapshot under the consumer id.
func (z *ZooKeeper) PersistConsumerState(consumerID string, state sideline.ConsumerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "encode consumer state")
	}
	return z.writeNode(z.consumerPath(consumerID), data)
}

// RetrieveConsumerState returns the stored snapshot, or nil when the
// node does not exist.
func (z *ZooKeeper) RetrieveConsumerState(consumerID string) (*sideline.ConsumerState, error) {
	data, ok, err := z.readNode(z.consumerPath(consumerID))
	if err != nil || !ok {
		return nil, err
	}
	var state sideline.ConsumerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrapf(err, "decode consumer state for %q", consumerID)
	}
	return &state, nil
}

// ClearConsumerState erases the stored snapshot.
func (z *ZooKeeper) ClearConsumerState(consumerID string) error {
	return z.deleteNode(z.consumerPath(consumerID))
}

type sidelineNode struct {
	EndingOffset int64 `json:"endingOffset"`
}

// PersistSidelineRequest stores the ending offset for one partition of a
// request.
func (z *ZooKeeper) PersistSidelineRequest(id sideline.SidelineRequestID, cp sideline.ConsumerPartition, endingOffset int64) error {
	data, err := json.Marshal(sidelineNode{EndingOffset: endingOffset})
	if err != nil {
		return errors.Wrap(err, "encode sideline request")
	}
	return z.writeNode(z.sidelinePath(id, cp), data)
}

// RetrieveSidelineRequest returns the stored ending offset for one
// partition of a request.
func (z *ZooKeeper) RetrieveSidelineRequest(id sideline.SidelineRequestID, cp sideline.ConsumerPartition) (int64, bool, error) {
	data, ok, err := z.readNode(z.sidelinePath(id, cp))
	if err != nil || !ok {
		return 0, false, err
	}
	var node sidelineNode
	if err := json.Unmarshal(data, &node); err != nil {
		return 0, false, errors.Wrapf(err, "decode sideline request %s for %s", id, cp)
	}
	return node.EndingOffset, true, nil
}

// ClearSidelineRequest erases the stored entry for one partition of a
// request.
func (z *ZooKeeper) ClearSidelineRequest(id sideline.SidelineRequestID, cp sideline.ConsumerPartition) error {
	return z.deleteNode(z.sidelinePath(id, cp))
}

func (z *ZooKeeper) consumerPath(consumerID string) string {
	return path.Join(z.root, "consumers", consumerID)
}

func (z *ZooKeeper) sidelinePath(id sideline.SidelineRequestID, cp sideline.ConsumerPartition) string {
	node := fmt.Sprintf("%s-%s", cp.Namespace, strconv.Itoa(int(cp.Partition)))
	return path.Join(z.root, "sidelines", string(id), node)
}

func (z *ZooKeeper) writeNode(p string, data []byte) error {
	if err := z.ensureParents(p); err != nil {
		return err
	}
	_, err := z.conn.Set(p, data, -1)
	if err == zk.ErrNoNode {
		_, err = z.conn.Create(p, data, 0, zk.WorldACL(zk.PermAll))
	}
	return errors.Wrapf(err, "write %s", p)
}

func (z *ZooKeeper) readNode(p string) ([]byte, bool, error) {
	data, _, err := z.conn.Get(p)
	if err == zk.ErrNoNode {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "read %s", p)
	}
	return data, true, nil
}

func (z *ZooKeeper) deleteNode(p string) error {
	err := z.conn.Delete(p, -1)
	if err == zk.ErrNoNode {
		return nil
	}
	return errors.Wrapf(err, "delete %s", p)
}

// ensureParents creates the missing ancestors of p, tolerating races
// with other writers.
func (z *ZooKeeper) ensureParents(p string) error {
	parts := strings.Split(strings.Trim(path.Dir(p), "/"), "/")
	node := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		node = node + "/" + part
		_, err := z.conn.Create(node, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return errors.Wrapf(err, "create %s", node)
		}
	}
	return nil
}
