package resolver

import "github.com/sirupsen/logrus"

// autoremove drops auto-installed packages that no remaining package
// depends on or recommends, repeating until nothing more qualifies
func (s *state) autoremove() {
	for {
		removed := false
		for _, name := range sortedNames(s.pkgs) {
			q := s.pkgs[name]
			if q == nil || !s.isAuto(name) || q.Essential || s.held(name) {
				continue
			}
			if len(s.requiredBy(q)) > 0 {
				continue
			}
			logrus.Infof("%s was autoinstalled and is now orphaned, removing", name)
			s.setChange(name, nil, ReasonAutoremove, false)
			removed = true
		}
		if !removed {
			return
		}
	}
}
