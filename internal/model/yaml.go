package model

import "gopkg.in/yaml.v3"

// UnmarshalYAML treats a router without an active key as active, so
// inventory files only need to mark the routers taken out of service.
func (r *Router) UnmarshalYAML(value *yaml.Node) error {
	type plain Router
	p := plain{Active: true}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = Router(p)
	return nil
}
