package pathmap

import "strings"

// ExpandUser resolves a leading "~" or "~user" component against the
// worker's reported environment. The worker's passwd database is not
// reachable from the coordinator, so resolution relies entirely on
// environment variables; paths that cannot be resolved are returned
// unchanged.
func ExpandUser(s Syntax, path string, environ map[string]string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	if s == Windows {
		return ntExpandUser(path, environ)
	}
	return posixExpandUser(path, environ)
}

func posixExpandUser(path string, environ map[string]string) string {
	i := strings.IndexByte(path, '/')
	if i < 0 {
		i = len(path)
	}
	if i != 1 {
		// "~user" needs the worker's passwd database; leave it alone.
		return path
	}
	home, ok := environ["HOME"]
	if !ok {
		return path
	}
	home = strings.TrimRight(home, "/")
	if home == "" {
		home = "/"
	}
	return home + path[i:]
}

func ntExpandUser(path string, environ map[string]string) string {
	i := 1
	for i < len(path) && path[i] != '/' && path[i] != '\\' {
		i++
	}
	userhome, ok := environ["USERPROFILE"]
	if !ok {
		drive, hasDrive := environ["HOMEDRIVE"]
		homepath, hasPath := environ["HOMEPATH"]
		if !hasPath {
			return path
		}
		if hasDrive {
			userhome = drive + homepath
		} else {
			userhome = homepath
		}
	}
	if i != 1 {
		// "~user": substitute the last component of the known home.
		j := strings.LastIndexAny(userhome, `/\`)
		if j < 0 {
			return path
		}
		userhome = userhome[:j+1] + path[1:i]
	}
	return strings.TrimRight(userhome, `/\`) + path[i:]
}
