// netcomm 命令行：在多台网络设备上并发执行命令脚本
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(execute(newRootCmd(), os.Stderr))
}

// execute 运行命令并返回退出码；设备失败时结果已输出，不再重复打印
func execute(root *cobra.Command, stderr io.Writer) int {
	err := root.Execute()
	if err == nil {
		return 0
	}
	if !errors.Is(err, errHostsFailed) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return 1
}

func newRootCmd() *cobra.Command {
	o := &runOptions{}
	root := &cobra.Command{
		Use:   "netcomm [flags] endpoint...",
		Short: "Run commands against network devices",
		Long: `netcomm connects to each endpoint, runs the script line by line and prints
one YAML (or JSON) document per host in completion order.

Endpoints use the form [protocol[+transport]://][user[:pass]@]host[:port].

Examples:
  netcomm -u admin --script show.txt sw1 sw2
  echo "show version" | netcomm --protocol eapi sw1
  netcomm --hosts-file hosts --script - --variables vlan=10 < vlan.tmpl`,
		Args:          cobra.ArbitraryArgs,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args, false)
		},
	}
	o.bind(root)

	root.AddCommand(newConfigureCmd(o))
	root.AddCommand(newHostsCmd(o))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), root.Version)
		},
	})
	return root
}

func newConfigureCmd(o *runOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "configure [flags] endpoint...",
		Short: "Run the script inside configure ... end",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args, true)
		},
	}
}

func newHostsCmd(o *runOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts [flags] endpoint...",
		Short: "Print the endpoints that would be targeted",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoints, err := o.endpoints(args)
			if err != nil {
				return err
			}
			for _, ep := range endpoints {
				fmt.Fprintln(cmd.OutOrStdout(), ep)
			}
			return nil
		},
	}
}
