package kvstore

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/gocql/gocql"
)

// CassandraConfig mirrors the subset of the teacher's
// cassandra.GetConfig()/walker.Config.Cassandra fields this store needs.
type CassandraConfig struct {
	Hosts             []string
	Keyspace          string
	ReplicationFactor int
	Timeout           string
}

// CassandraStore is an opt-in KVStore backend for deployments that already
// run Cassandra for other services (learning, usage, content-change
// persistence can all point at one keyspace instead of three JSON files).
// Grounded on the teacher's cassandra/helpers.go (GetConfig, CreateSchema
// via text/template) and cassandra/datastore.go (session lifecycle),
// repurposed from a link-crawl schema to a generic key-value table.
type CassandraStore struct {
	cfg *gocql.ClusterConfig
	db  *gocql.Session
}

// clusterConfig builds a *gocql.ClusterConfig the same way the teacher's
// cassandra.GetConfig does, from an explicit CassandraConfig instead of a
// package-level walker.Config global.
func clusterConfig(c CassandraConfig) (*gocql.ClusterConfig, error) {
	timeout, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return nil, fmt.Errorf("kvstore: invalid cassandra timeout: %w", err)
	}
	cluster := gocql.NewCluster(c.Hosts...)
	cluster.Keyspace = c.Keyspace
	cluster.Timeout = timeout
	return cluster, nil
}

// NewCassandraStore connects to the configured cluster and returns a
// KVStore backed by it. The keyspace and kv table must already exist; use
// CreateSchema to provision them.
func NewCassandraStore(c CassandraConfig) (*CassandraStore, error) {
	cluster, err := clusterConfig(c)
	if err != nil {
		return nil, err
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("kvstore: could not connect to cassandra: %w", err)
	}
	return &CassandraStore{cfg: cluster, db: session}, nil
}

// Close releases the underlying Cassandra session.
func (cs *CassandraStore) Close() {
	cs.db.Close()
}

func (cs *CassandraStore) Get(namespace, key string) ([]byte, bool, error) {
	var value []byte
	err := cs.db.Query(
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`, namespace, key,
	).Scan(&value)
	if err == gocql.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (cs *CassandraStore) Set(namespace, key string, value []byte) error {
	return cs.db.Query(
		`INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)`, namespace, key, value,
	).Exec()
}

func (cs *CassandraStore) Delete(namespace, key string) error {
	return cs.db.Query(
		`DELETE FROM kv WHERE namespace = ? AND key = ?`, namespace, key,
	).Exec()
}

func (cs *CassandraStore) ListKeys(namespace string) ([]string, error) {
	iter := cs.db.Query(`SELECT key FROM kv WHERE namespace = ?`, namespace).Iter()
	var keys []string
	var key string
	for iter.Scan(&key) {
		keys = append(keys, key)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return keys, nil
}

type cassandraTx struct {
	cs        *CassandraStore
	namespace string
	batch     *gocql.Batch
}

func (tx *cassandraTx) Get(key string) ([]byte, bool, error) {
	return tx.cs.Get(tx.namespace, key)
}

func (tx *cassandraTx) Set(key string, value []byte) error {
	tx.batch.Query(`INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)`, tx.namespace, key, value)
	return nil
}

func (tx *cassandraTx) Delete(key string) error {
	tx.batch.Query(`DELETE FROM kv WHERE namespace = ? AND key = ?`, tx.namespace, key)
	return nil
}

// Transaction uses a Cassandra logged batch as the unit of atomicity for
// the buffered writes issued against tx.
func (cs *CassandraStore) Transaction(namespace string, fn func(tx KVTx) error) error {
	batch := cs.db.NewBatch(gocql.LoggedBatch)
	tx := &cassandraTx{cs: cs, namespace: namespace, batch: batch}
	if err := fn(tx); err != nil {
		return err
	}
	return cs.db.ExecuteBatch(batch)
}

// Flush is a no-op for CassandraStore: every Set/Delete/Transaction above
// is already a synchronous write to the cluster.
func (cs *CassandraStore) Flush() error { return nil }

// CreateSchema creates the keyspace and kv table, mirroring the teacher's
// cassandra.CreateSchema/GetSchema text/template rendering.
func CreateSchema(c CassandraConfig) error {
	cluster, err := clusterConfig(c)
	if err != nil {
		return err
	}
	keyspace := cluster.Keyspace
	cluster.Keyspace = ""
	db, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("kvstore: could not connect to create schema: %w", err)
	}
	defer db.Close()

	schema, err := RenderSchema(c)
	if err != nil {
		return err
	}
	for _, q := range splitStatements(schema) {
		if err := db.Query(q).Exec(); err != nil {
			return fmt.Errorf("kvstore: failed to create schema: %w\nstatement:\n%v", err, q)
		}
	}
	_ = keyspace
	return nil
}

// RenderSchema returns the CQL schema text for this KVStore, with keyspace
// and replication factor templated in the way the teacher's
// cassandra.GetSchema renders its CQL from walker.Config.Cassandra.
func RenderSchema(c CassandraConfig) (string, error) {
	t, err := template.New("schema").Parse(kvSchemaTemplate)
	if err != nil {
		return "", err
	}
	var b bytes.Buffer
	if err := t.Execute(&b, c); err != nil {
		return "", err
	}
	return b.String(), nil
}

func splitStatements(schema string) []string {
	var out []string
	start := 0
	for i := 0; i < len(schema); i++ {
		if schema[i] == ';' {
			stmt := trimSpace(schema[start:i])
			if stmt != "" {
				out = append(out, stmt)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\n' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\n' || s[j-1] == '\t') {
		j--
	}
	return s[i:j]
}

const kvSchemaTemplate = `-- schema for the fetchcascade KVStore Cassandra backend
CREATE KEYSPACE {{.Keyspace}}
WITH REPLICATION = { 'class': 'SimpleStrategy', 'replication_factor': {{.ReplicationFactor}} };

-- kv stores every namespaced key/value written by the Learning Store,
-- Usage Meter and Content Change Tracker.
CREATE TABLE {{.Keyspace}}.kv (
	namespace text,
	key text,
	value blob,
	PRIMARY KEY (namespace, key)
) WITH compaction = { 'class' : 'LeveledCompactionStrategy' };
`
