package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/allaspectsdev/webdog/internal/config"
	"github.com/allaspectsdev/webdog/internal/daemon"
)

func cmdStart(args []string) {
	cfg, err := config.Load(flagValue(args, "--config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := daemon.Run(cfg, hasFlag(args, "--foreground", "-f")); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdStop() {
	if err := daemon.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "error stopping daemon: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("webdog stopped")
}

func cmdStatus() {
	if err := daemon.Status(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func cmdSetup(args []string) {
	cmdInitConfig()

	if hasFlag(args, "--non-interactive") || !term.IsTerminal(int(syscall.Stdin)) {
		fmt.Println("Setup complete. Store a bot token with 'webdog token set', then run 'webdog start'.")
		return
	}

	fmt.Println()
	fmt.Println("WebDog Setup Wizard")
	fmt.Println("===================")
	fmt.Println()
	fmt.Println("WebDog alerts through a Telegram bot. Create one by messaging")
	fmt.Println("@BotFather and copying the token it hands back.")
	fmt.Println()

	if promptYesNo("Store the bot token now?") {
		if err := storeToken(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			fmt.Println("You can retry later with: webdog token set")
		}
	} else {
		fmt.Println("Run 'webdog token set' once you have it.")
	}

	fmt.Println()
	fmt.Println("Setup complete. Run 'webdog start', then message your bot: /watch <url>")
}

func cmdInitConfig() {
	if err := config.InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "error generating config: %v\n", err)
		os.Exit(1)
	}
}

func cmdInstallService() {
	if err := daemon.InstallService(); err != nil {
		fmt.Fprintf(os.Stderr, "error installing service: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Service installed successfully")
}

func cmdUninstallService() {
	if err := daemon.UninstallService(); err != nil {
		fmt.Fprintf(os.Stderr, "error uninstalling service: %v\n", err)
		os.Exit(1)
	}
}

func cmdConfigExport(args []string) {
	path := "webdog-export.toml"
	if len(args) > 0 {
		path = args[0]
	}

	// A missing config file still exports the built-in defaults; only a
	// broken one aborts.
	if _, err := config.Load(""); err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := config.ExportConfig(path); err != nil {
		fmt.Fprintf(os.Stderr, "error exporting config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config exported to %s\n", path)
}

func cmdConfigImport(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: webdog config-import <file>")
		os.Exit(1)
	}
	if err := config.ImportConfig(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "error importing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config imported from %s\n", args[0])
}

// hasFlag reports whether args contains any of names.
func hasFlag(args []string, names ...string) bool {
	for _, a := range args {
		for _, n := range names {
			if a == n {
				return true
			}
		}
	}
	return false
}

// flagValue returns the argument following name, or "" when absent.
func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func promptYesNo(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
