package config

import "os"

type Status struct {
	ConfigPath string
	ConfigOK   bool
	DataRoot   string
	DataRootOK bool
	Backend    string
	DBPath     string
	DBOK       bool
	Runner     string
	Problems   error
}

func BuildStatus(cfg Config) Status {
	status := Status{
		ConfigPath: ConfigPath(),
		DataRoot:   DataRoot(),
		Backend:    cfg.Storage.Backend,
		DBPath:     DBPath(cfg),
		Runner:     cfg.Runner.Command,
		Problems:   Validate(cfg),
	}
	if _, err := os.Stat(status.ConfigPath); err == nil {
		status.ConfigOK = true
	}
	if _, err := os.Stat(status.DataRoot); err == nil {
		status.DataRootOK = true
	}
	if _, err := os.Stat(status.DBPath); err == nil {
		status.DBOK = true
	}
	return status
}
