package vfs

import (
	"fmt"
	"sort"
)

type DriverAlreadyRegistered struct {
	Tag byte
}

func (d DriverAlreadyRegistered) Error() string {
	return fmt.Sprintf("driver with tag %q is already registered", d.Tag)
}

type DriverNotFound struct {
	Key string
}

func (d DriverNotFound) Error() string {
	return fmt.Sprintf("driver %s is not registered", d.Key)
}

// Info is a registered driver together with its routing keys.
type Info struct {
	Tag    byte
	Name   string
	Driver Driver
}

// Registry routes calls to drivers by their one-character type tag.
type Registry struct {
	drivers map[byte]Info
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[byte]Info)}
}

func (r *Registry) Register(tag byte, name string, driver Driver) error {
	if _, ok := r.drivers[tag]; ok {
		return DriverAlreadyRegistered{tag}
	}
	r.drivers[tag] = Info{Tag: tag, Name: name, Driver: driver}
	return nil
}

func (r *Registry) Lookup(tag byte) (Driver, error) {
	info, ok := r.drivers[tag]
	if !ok {
		return nil, DriverNotFound{fmt.Sprintf("%q", tag)}
	}
	return info.Driver, nil
}

func (r *Registry) LookupName(name string) (Info, error) {
	for _, info := range r.drivers {
		if info.Name == name {
			return info, nil
		}
	}
	return Info{}, DriverNotFound{name}
}

// List returns registered drivers ordered by tag.
func (r *Registry) List() []Info {
	infos := make([]Info, 0, len(r.drivers))
	for _, info := range r.drivers {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Tag < infos[j].Tag })
	return infos
}

// Idle reports whether no registered driver holds open descriptors on v.
func (r *Registry) Idle(v Volume) bool {
	for _, info := range r.drivers {
		if !info.Driver.IsIdle(v) {
			return false
		}
	}
	return true
}
