// Package command prepares a child command that runs with leased ports
package command

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nebari-dev/portserver/pkg/logger"
)

// Environment variables set on the child
const (
	EnvPort  = "PORTSERVER_PORT"
	EnvPorts = "PORTSERVER_PORTS"
)

// ErrNoCommand is returned by Build for an empty command line
var ErrNoCommand = errors.New("no command specified")

// Builder substitutes leased ports into a command line and its environment
type Builder struct {
	logger *logger.Logger
}

// NewBuilder creates a new command builder
func NewBuilder(log *logger.Logger) *Builder {
	return &Builder{
		logger: log.WithComponent("command"),
	}
}

// Build returns the command with port placeholders filled in and the
// environment the child should run with
func (b *Builder) Build(command []string, ports []uint16) (args []string, env []string, err error) {
	if len(command) == 0 {
		return nil, nil, ErrNoCommand
	}
	if len(ports) == 0 {
		return nil, nil, fmt.Errorf("no ports to substitute into %q", command[0])
	}

	args = SubstitutePorts(command, ports)
	env = append(os.Environ(), BuildEnv(ports)...)
	b.logger.Debug("built command", "args", args, "ports", ports)
	return args, env, nil
}

// SubstitutePorts replaces placeholders in command arguments:
// {port} is the first port and {port0}, {port1}, ... index into ports.
// Indexed placeholders beyond len(ports) are left alone.
func SubstitutePorts(command []string, ports []uint16) []string {
	// The replacer tries patterns in argument order, so {port10} must come
	// before {port1}.
	var pairs []string
	for i := len(ports) - 1; i >= 0; i-- {
		pairs = append(pairs, fmt.Sprintf("{port%d}", i), strconv.Itoa(int(ports[i])))
	}
	pairs = append(pairs, "{port}", strconv.Itoa(int(ports[0])))
	r := strings.NewReplacer(pairs...)

	result := make([]string, len(command))
	for i, arg := range command {
		result[i] = r.Replace(arg)
	}
	return result
}

// BuildEnv returns PORTSERVER_PORT and PORTSERVER_PORTS as KEY=value pairs
func BuildEnv(ports []uint16) []string {
	strs := make([]string, len(ports))
	for i, p := range ports {
		strs[i] = strconv.Itoa(int(p))
	}
	return []string{
		EnvPort + "=" + strs[0],
		EnvPorts + "=" + strings.Join(strs, ","),
	}
}
