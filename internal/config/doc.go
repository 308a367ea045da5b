/*
Package config loads and validates the configuration for a single mount of
the remote drive.

# Sources, in precedence order

	Environment variables (MFSFS_*)   highest
	Configuration file (YAML)
	Compiled-in defaults              lowest

Usage:

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/mfsfs/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

# Sections

Global holds logging and service port settings. Mount holds the mount
point, FUSE options, and the uid/gid/mode applied to synthesized inodes.
Remote holds the drive API endpoint, credentials, and the retry/circuit
breaker tuning wrapped around it — retry is scoped to the journal update
call only, per the catalog's update() contract. Staging names the
directory holding working copies for open files. Cache configures the
on-disk catalog persistence file. Update controls the background,
non-forced journal poll schedule.

Credentials (session token or email/password) are never logged; Validate
requires one of the two forms before a mount is attempted, and SaveToFile
writes the file with mode 0600.
*/
package config
