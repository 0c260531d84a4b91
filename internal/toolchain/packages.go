// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package toolchain

import (
	"bytes"
	"os/exec"
	"strings"

	"github.com/forkbombeu/devrig/internal/config"
)

// licenseAnswerBudget bounds the affirmative responses piped into
// `sdkmanager --licenses`. The tool prompts once per unaccepted license;
// the real count is a handful, 50 covers any future additions.
const licenseAnswerBudget = 50

// RequiredPackages returns the sdkmanager packages the pipeline cannot
// run without.
func RequiredPackages(cfg config.Config) []string {
	return []string{
		"platform-tools",
		"emulator",
		cfg.PlatformPackage(),
		cfg.SystemImage(),
	}
}

// OptionalPackages returns acceleration extras that are nice to have but
// absent on many hosts. Their install failures are logged, not fatal.
func OptionalPackages() []string {
	return []string{
		"extras;intel;Hardware_Accelerated_Execution_Manager",
		"extras;google;Android_Emulator_Hypervisor_Driver",
	}
}

// AcceptLicenses accepts all SDK licenses non-interactively.
func AcceptLicenses(cfg config.Config, sdkmanager string) error {
	cmd := exec.Command(sdkmanager, "--licenses", "--sdk_root="+cfg.SDKRoot)
	cmd.Stdin = strings.NewReader(strings.Repeat("y\n", licenseAnswerBudget))
	cmd.Env = cfg.ChildEnv()
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return &UnavailableError{Tool: "sdkmanager --licenses", Err: err}
	}
	return nil
}

// InstallPackage installs one sdkmanager package. A non-zero exit becomes
// PackageInstallError carrying the exit code and combined output.
func InstallPackage(cfg config.Config, sdkmanager, pkg string) error {
	cmd := exec.Command(sdkmanager, "--sdk_root="+cfg.SDKRoot, pkg)
	cmd.Stdin = strings.NewReader(strings.Repeat("y\n", licenseAnswerBudget))
	cmd.Env = cfg.ChildEnv()
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return &PackageInstallError{
			Package:  pkg,
			ExitCode: exitCode(err),
			Output:   buf.String(),
		}
	}
	return nil
}

func exitCode(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}
