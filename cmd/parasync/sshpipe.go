package main

import (
	"fmt"
	"io"
	"os/exec"
)

// sshCiphers enumerates the cipher choices exposed on the CLI; anything
// outside this set is rejected before an ssh process is ever spawned.
var sshCiphers = map[string]bool{
	"aes128-gcm@openssh.com":        true,
	"aes256-gcm@openssh.com":        true,
	"chacha20-poly1305@openssh.com": true,
	"aes128-ctr":                    true,
	"aes256-ctr":                    true,
}

// sshOptions configures how a remote agent is launched over an SSH pipe.
type sshOptions struct {
	Port            int
	KeyFile         string
	ParallelStreams int
	ControlMaster   bool
	Persist         bool
	Cipher          string
	Compression     bool
	RemoteBin       string
}

func defaultSSHOptions() sshOptions {
	return sshOptions{
		Port:            22,
		ParallelStreams: 1,
		RemoteBin:       "parasync",
	}
}

// sshPipe wraps an ssh subprocess whose stdin/stdout carry the agent wire
// protocol, the same framing used over a direct TCP connection.
type sshPipe struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *sshPipe) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *sshPipe) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *sshPipe) Close() error {
	_ = p.stdin.Close()
	_ = p.stdout.Close()
	_ = p.cmd.Process.Kill()
	return p.cmd.Wait()
}

// dialSSHAgent spawns `ssh [opts] user@host <remote-bin> agent --stdio`
// and returns a ReadWriteCloser wired to its stdin/stdout.
func dialSSHAgent(user, host string, opts sshOptions) (*sshPipe, error) {
	args := []string{"-p", fmt.Sprintf("%d", opts.Port)}
	if opts.KeyFile != "" {
		args = append(args, "-i", opts.KeyFile)
	}
	if opts.Cipher != "" {
		args = append(args, "-c", opts.Cipher)
	}
	if opts.Compression {
		args = append(args, "-C")
	}
	if opts.ControlMaster {
		args = append(args, "-o", "ControlMaster=auto", "-o", "ControlPath=~/.ssh/parasync-%r@%h:%p")
		if opts.Persist {
			args = append(args, "-o", "ControlPersist=10m")
		}
	}
	target := host
	if user != "" {
		target = user + "@" + host
	}
	bin := opts.RemoteBin
	if bin == "" {
		bin = "parasync"
	}
	args = append(args, target, bin, "agent", "--stdio")

	cmd := exec.Command("ssh", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &sshPipe{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}
