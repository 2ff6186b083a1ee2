// Package config loads and watches the agent configuration file.
//
// Load(path) reads the YAML file, fills defaults (5s report interval, 100
// record buffer, the four default channels, a 1000 events/s simulator) and
// validates the result. Secrets never live in the file: *_env fields name
// environment variables that Key, Token and Password resolve at call time.
//
// Watch(ctx, path, onChange) follows the file with fsnotify. Only the
// simulator rate and the log level are applied live by the agent; every
// other field takes effect on restart.
package config
