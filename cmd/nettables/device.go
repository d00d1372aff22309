package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/ssh"

	"github.com/damianoneill/nettables/cli"
	"github.com/damianoneill/nettables/common"
	"github.com/damianoneill/nettables/netconf"
)

// deviceFlags select and configure the connection to a live device.
type deviceFlags struct {
	host      string
	user      string
	password  string
	transport string
	timeout   time.Duration
	commit    bool
	prompt    string
}

func (f *deviceFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.host, "host", "", "device address, host:port")
	flags.StringVarP(&f.user, "user", "u", os.Getenv("USER"), "ssh user")
	flags.StringVarP(&f.password, "password", "p", "", "ssh password, defaults to $NETTABLES_PASSWORD")
	flags.StringVar(&f.transport, "transport", "netconf", "netconf or cli")
	flags.DurationVar(&f.timeout, "timeout", 30*time.Second, "connection timeout")
	flags.BoolVar(&f.commit, "commit", false, "commit after each accepted write")
	flags.StringVar(&f.prompt, "prompt", "", "cli prompt pattern, detected when empty")
}

func (f *deviceFlags) sshConfig() *ssh.ClientConfig {
	password := f.password
	if password == "" {
		password = os.Getenv("NETTABLES_PASSWORD")
	}
	return &ssh.ClientConfig{
		User:            f.user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // nolint: gosec
		Timeout:         f.timeout,
	}
}

// connect dials the device with the selected transport.
func (f *deviceFlags) connect(ctx context.Context) (common.Target, io.Closer, error) {
	if f.host == "" {
		return nil, nil, errors.New("no device given, use --host")
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	switch f.transport {
	case "netconf":
		s, err := netconf.Dial(ctx, f.sshConfig(), f.host, &netconf.Config{Commit: f.commit})
		if err != nil {
			return nil, nil, errors.Wrapf(err, "connect %s", f.host)
		}
		return netconf.NewTarget(s, &netconf.Config{Commit: f.commit}), s, nil
	case "cli":
		var opts []cli.Option
		if f.prompt != "" {
			opts = append(opts, cli.WithPrompt(f.prompt))
		}
		c, err := cli.Dial(ctx, f.sshConfig(), f.host, opts...)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "connect %s", f.host)
		}
		return c, c, nil
	default:
		return nil, nil, errors.Errorf("unknown transport %q", f.transport)
	}
}
