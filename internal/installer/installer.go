package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrInstallation is returned when a package manager invocation fails or no
// supported package manager exists for the platform.
var ErrInstallation = errors.New("installation failed")

// Platform identifies the package-manager family of the host system.
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformDebian  Platform = "debian"
	PlatformFedora  Platform = "fedora"
	PlatformArch    Platform = "arch"
	PlatformLinux   Platform = "linux"
	PlatformUnknown Platform = "unknown"
)

// ToolStatus describes one required tool after a presence check.
type ToolStatus struct {
	Name      string `json:"name"`
	Present   bool   `json:"present"`
	Path      string `json:"path,omitempty"`
	Package   string `json:"package,omitempty"`
	Installed bool   `json:"installed,omitempty"`
}

// Installer checks for required external tools and installs missing ones.
type Installer struct {
	logger *logrus.Logger

	// lookPath, osRelease and runCmd are swappable for tests.
	lookPath  func(string) (string, error)
	osRelease func() (string, error)
	runCmd    func(ctx context.Context, argv []string) error
}

// DefaultTools are the external binaries the compression backends shell out to.
var DefaultTools = []string{"gs", "ffmpeg", "ffprobe", "exiftool"}

// commonPackages maps tool names to package names that are the same on every
// supported platform (e.g. gs -> ghostscript).
var commonPackages = map[string]string{
	"gs":      "ghostscript",
	"ffprobe": "ffmpeg",
}

// platformPackages holds package names where the platforms disagree: exiftool
// is libimage-exiftool-perl on Debian, perl-Image-ExifTool on Fedora,
// perl-image-exiftool on Arch and plain exiftool in Homebrew.
var platformPackages = map[Platform]map[string]string{
	PlatformDebian: {"exiftool": "libimage-exiftool-perl"},
	PlatformFedora: {"exiftool": "perl-Image-ExifTool"},
	PlatformArch:   {"exiftool": "perl-image-exiftool"},
}

// New returns an Installer using the real system environment.
func New(logger *logrus.Logger) *Installer {
	return &Installer{
		logger:    logger,
		lookPath:  exec.LookPath,
		osRelease: readOSRelease,
		runCmd:    runCommand,
	}
}

// Check returns the presence status of each named tool.
func (i *Installer) Check(tools []string) []ToolStatus {
	platform := i.DetectPlatform()
	statuses := make([]ToolStatus, 0, len(tools))
	for _, tool := range tools {
		st := ToolStatus{Name: tool, Package: packageFor(tool, platform)}
		if path, err := i.lookPath(tool); err == nil {
			st.Present = true
			st.Path = path
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// Missing returns the subset of tools not found on PATH.
func (i *Installer) Missing(tools []string) []string {
	var missing []string
	for _, st := range i.Check(tools) {
		if !st.Present {
			missing = append(missing, st.Name)
		}
	}
	return missing
}

// InstallMissing checks the given tools and installs only the absent ones via
// the system package manager. Already-present tools are never reinstalled.
func (i *Installer) InstallMissing(ctx context.Context, tools []string) ([]ToolStatus, error) {
	statuses := i.Check(tools)

	var missing []ToolStatus
	for _, st := range statuses {
		if !st.Present {
			missing = append(missing, st)
		}
	}
	if len(missing) == 0 {
		i.logger.Info("all required tools are present")
		return statuses, nil
	}

	platform := i.DetectPlatform()
	for idx := range statuses {
		st := &statuses[idx]
		if st.Present {
			continue
		}
		i.logger.WithFields(logrus.Fields{
			"tool":     st.Name,
			"platform": string(platform),
		}).Info("installing missing tool")
		if err := i.install(ctx, platform, st.Package); err != nil {
			return statuses, err
		}
		st.Installed = true
	}
	return statuses, nil
}

// DetectPlatform sniffs the host platform the way the package-manager mapping
// needs it: GOOS first, then /etc/os-release for the Linux family.
func (i *Installer) DetectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "linux":
		release, err := i.osRelease()
		if err != nil {
			return PlatformLinux
		}
		release = strings.ToLower(release)
		switch {
		case strings.Contains(release, "ubuntu"), strings.Contains(release, "debian"):
			return PlatformDebian
		case strings.Contains(release, "fedora"), strings.Contains(release, "centos"), strings.Contains(release, "rhel"):
			return PlatformFedora
		case strings.Contains(release, "arch"), strings.Contains(release, "manjaro"):
			return PlatformArch
		}
		return PlatformLinux
	}
	return PlatformUnknown
}

// InstallCommand returns the package manager invocation for the platform, or
// nil when the platform has no supported manager.
func InstallCommand(platform Platform, pkg string) []string {
	switch platform {
	case PlatformMacOS:
		return []string{"brew", "install", pkg}
	case PlatformDebian:
		return []string{"sudo", "apt-get", "install", "-y", pkg}
	case PlatformFedora:
		return []string{"sudo", "dnf", "install", "-y", pkg}
	case PlatformArch:
		return []string{"sudo", "pacman", "-Sy", "--noconfirm", pkg}
	}
	return nil
}

// install runs the platform package manager for a single package.
func (i *Installer) install(ctx context.Context, platform Platform, pkg string) error {
	argv := InstallCommand(platform, pkg)
	if argv == nil {
		return fmt.Errorf("%w: no supported package manager for platform %s", ErrInstallation, platform)
	}

	if err := i.runCmd(ctx, argv); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInstallation, strings.Join(argv, " "), err)
	}
	return nil
}

// runCommand executes a package manager invocation, folding stderr into the error.
func runCommand(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return err
		}
		return errors.New(msg)
	}
	return nil
}

// packageFor maps a tool name to its package name on the given platform.
func packageFor(tool string, platform Platform) string {
	if pkg, ok := platformPackages[platform][tool]; ok {
		return pkg
	}
	if pkg, ok := commonPackages[tool]; ok {
		return pkg
	}
	return tool
}

// readOSRelease reads /etc/os-release for distro detection.
func readOSRelease() (string, error) {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
