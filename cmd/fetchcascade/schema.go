package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fetchcascade/fetchcascade"
	"github.com/fetchcascade/fetchcascade/internal/kvstore"
)

var schemaOutfile string

var schemaCommand = &cobra.Command{
	Use:   "schema",
	Short: "Render the Cassandra key-value table schema",
	Long: `Schema prints the fetchcascade Cassandra schema to stdout or a file,
substituting the configured keyspace and replication factor. Useful for:
    $ <edit fetchcascade.yaml as desired>
    $ fetchcascade schema -o schema.cql
    $ cqlsh -f schema.cql
`,
	Run: schemaFunc,
}

func init() {
	schemaCommand.Flags().StringVarP(&schemaOutfile, "out", "o", "", "File to write output to; defaults to stdout")
	RootCommand.AddCommand(schemaCommand)
}

func schemaFunc(cmd *cobra.Command, args []string) {
	loadConfig()

	cfg := kvstore.CassandraConfig{
		Hosts:             fetchcascade.Config.Cassandra.Hosts,
		Keyspace:          fetchcascade.Config.Cassandra.Keyspace,
		ReplicationFactor: fetchcascade.Config.Cassandra.ReplicationFactor,
		Timeout:           fetchcascade.Config.Cassandra.Timeout,
	}

	schema, err := kvstore.RenderSchema(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetchcascade schema: %v\n", err)
		os.Exit(1)
	}

	out := os.Stdout
	if schemaOutfile != "" {
		f, err := os.Create(schemaOutfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fetchcascade schema: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	fmt.Fprint(out, schema)
}
