package daemon

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
)

const (
	launchdLabel    = "com.allaspects.webdog"
	systemdUnitName = "webdog.service"
)

// launchdPlistTemplate is the macOS launchd property list for running WebDog
// as a persistent user agent.
const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ProgramPath}}</string>
        <string>start</string>
        <string>--foreground</string>
    </array>

    <key>WorkingDirectory</key>
    <string>{{.WorkingDir}}</string>

    <key>KeepAlive</key>
    <true/>

    <key>RunAtLoad</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.LogDir}}/webdog.out.log</string>

    <key>StandardErrorPath</key>
    <string>{{.LogDir}}/webdog.err.log</string>

    <key>EnvironmentVariables</key>
    <dict>
        <key>PATH</key>
        <string>/usr/local/bin:/usr/bin:/bin:/opt/homebrew/bin</string>
    </dict>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>5</integer>
</dict>
</plist>
`

// systemdUnitTemplate is the user-level systemd unit for Linux installs.
const systemdUnitTemplate = `[Unit]
Description=WebDog page monitor daemon
After=network-online.target
Wants=network-online.target

[Service]
ExecStart={{.ProgramPath}} start --foreground
WorkingDirectory={{.WorkingDir}}
Restart=always
RestartSec=5

[Install]
WantedBy=default.target
`

type serviceData struct {
	Label       string
	ProgramPath string
	WorkingDir  string
	LogDir      string
}

// InstallService registers WebDog with the platform's service manager so it
// restarts on login and after crashes. It installs a launchd user agent on
// macOS and a systemd user unit on Linux.
func InstallService() error {
	switch runtime.GOOS {
	case "darwin":
		return installLaunchd()
	case "linux":
		return installSystemd()
	default:
		return fmt.Errorf("install-service is not supported on %s", runtime.GOOS)
	}
}

// UninstallService stops the managed service and removes its definition.
func UninstallService() error {
	switch runtime.GOOS {
	case "darwin":
		return uninstallLaunchd()
	case "linux":
		return uninstallSystemd()
	default:
		return fmt.Errorf("uninstall-service is not supported on %s", runtime.GOOS)
	}
}

func installLaunchd() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}
	program, err := resolveProgram()
	if err != nil {
		return err
	}

	dataDir := filepath.Join(home, ".webdog")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	agentsDir := filepath.Join(home, "Library", "LaunchAgents")
	if err := os.MkdirAll(agentsDir, 0o755); err != nil {
		return fmt.Errorf("creating LaunchAgents directory: %w", err)
	}

	body, err := renderServiceFile("plist", launchdPlistTemplate, serviceData{
		Label:       launchdLabel,
		ProgramPath: program,
		WorkingDir:  dataDir,
		LogDir:      dataDir,
	})
	if err != nil {
		return err
	}

	plistPath := filepath.Join(agentsDir, launchdLabel+".plist")
	if err := os.WriteFile(plistPath, body, 0o644); err != nil {
		return fmt.Errorf("writing plist %s: %w", plistPath, err)
	}
	fmt.Printf("Plist written to %s\n", plistPath)

	// Unload any previous copy first; launchctl refuses to load twice.
	_ = exec.Command("launchctl", "unload", plistPath).Run()

	if out, err := exec.Command("launchctl", "load", plistPath).CombinedOutput(); err != nil {
		return fmt.Errorf("launchctl load: %v: %s", err, strings.TrimSpace(string(out)))
	}
	fmt.Printf("Service %s loaded via launchctl\n", launchdLabel)
	return nil
}

func uninstallLaunchd() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}
	plistPath := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")

	// Unloading something that was never loaded is fine.
	_ = exec.Command("launchctl", "unload", plistPath).Run()

	if err := os.Remove(plistPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing plist: %w", err)
	}
	fmt.Printf("Service %s uninstalled\n", launchdLabel)
	return nil
}

func installSystemd() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}
	program, err := resolveProgram()
	if err != nil {
		return err
	}

	dataDir := filepath.Join(home, ".webdog")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	unitDir := filepath.Join(home, ".config", "systemd", "user")
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return fmt.Errorf("creating systemd user directory: %w", err)
	}

	body, err := renderServiceFile("unit", systemdUnitTemplate, serviceData{
		ProgramPath: program,
		WorkingDir:  dataDir,
		LogDir:      dataDir,
	})
	if err != nil {
		return err
	}

	unitPath := filepath.Join(unitDir, systemdUnitName)
	if err := os.WriteFile(unitPath, body, 0o644); err != nil {
		return fmt.Errorf("writing unit %s: %w", unitPath, err)
	}
	fmt.Printf("Unit written to %s\n", unitPath)

	if err := runSystemctl("daemon-reload"); err != nil {
		return err
	}
	if err := runSystemctl("enable", "--now", systemdUnitName); err != nil {
		return err
	}
	fmt.Printf("Service %s enabled via systemctl --user\n", systemdUnitName)
	return nil
}

func uninstallSystemd() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}
	unitPath := filepath.Join(home, ".config", "systemd", "user", systemdUnitName)

	// Keep going past disable failures so the unit file itself still
	// gets deleted.
	_ = exec.Command("systemctl", "--user", "disable", "--now", systemdUnitName).Run()

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit file: %w", err)
	}
	_ = exec.Command("systemctl", "--user", "daemon-reload").Run()

	fmt.Printf("Service %s uninstalled\n", systemdUnitName)
	return nil
}

// resolveProgram returns the absolute, symlink-free path of the running
// binary, suitable for embedding in a service definition.
func resolveProgram() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("determining executable path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(execPath)
	if err != nil {
		return "", fmt.Errorf("resolving executable symlinks: %w", err)
	}
	return resolved, nil
}

func renderServiceFile(name, text string, data serviceData) ([]byte, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func runSystemctl(args ...string) error {
	cmd := exec.Command("systemctl", append([]string{"--user"}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl --user %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
