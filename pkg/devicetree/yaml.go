package devicetree

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/open-power/pdbg/pkg/logflags"
)

// Node is the YAML form of a device-tree node.
//
//	name: pib@0
//	properties:
//	  compatible: ibm,power9-pib
//	  index: 0
//	children:
//	  - name: core@10
//	    ...
type Node struct {
	Name       string        `yaml:"name"`
	Properties yaml.MapSlice `yaml:"properties"`
	Children   []Node        `yaml:"children"`
}

// ReadYAMLFile opens path and streams it into v.
func ReadYAMLFile(path string, v Visitor) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return errors.Wrapf(ReadYAML(f, v), "reading device tree %s", path)
}

// ReadYAML decodes a YAML document whose top-level object is the root node
// and streams it into v in pre-order.
func ReadYAML(r io.Reader, v Visitor) error {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	var root Node
	if err := yaml.UnmarshalStrict(data, &root); err != nil {
		return errors.Wrap(err, "decoding device tree")
	}
	return Walk(&root, v)
}

// Walk streams an already decoded node and its subtree into v.
func Walk(root *Node, v Visitor) error {
	return walk(root, NoHandle, "", v, logflags.DeviceTreeLogger())
}

func walk(n *Node, parent Handle, path string, v Visitor, log logflags.Logger) error {
	path = strings.TrimSuffix(path, "/") + "/" + n.Name
	h, err := v.VisitNode(n.Name, parent)
	if err != nil {
		return errors.Wrapf(err, "node %s", path)
	}
	log.Debugf("node %s", path)
	for _, item := range n.Properties {
		name, ok := item.Key.(string)
		if !ok {
			return errors.Errorf("node %s: property name %v is not a string", path, item.Key)
		}
		value, present, err := encodeProperty(item.Value)
		if err != nil {
			return errors.Wrapf(err, "node %s: property %s", path, name)
		}
		if !present {
			continue
		}
		log.Debugf("  %s: length=%d", name, len(value))
		if err := v.VisitProperty(h, name, value); err != nil {
			return errors.Wrapf(err, "node %s: property %s", path, name)
		}
	}
	for i := range n.Children {
		if err := walk(&n.Children[i], h, path, v, log); err != nil {
			return err
		}
	}
	return nil
}

func encodeProperty(val interface{}) ([]byte, bool, error) {
	switch x := val.(type) {
	case nil:
		return []byte{}, true, nil
	case bool:
		// A true boolean is an empty property, false omits it.
		return []byte{}, x, nil
	case string:
		return Strings(x), true, nil
	case []interface{}:
		if len(x) == 0 {
			return []byte{}, true, nil
		}
		if _, isString := x[0].(string); isString {
			strs := make([]string, len(x))
			for i := range x {
				s, ok := x[i].(string)
				if !ok {
					return nil, false, fmt.Errorf("mixed list element %v", x[i])
				}
				strs[i] = s
			}
			return Strings(strs...), true, nil
		}
		var cells []uint32
		for i := range x {
			c, err := toCells(x[i])
			if err != nil {
				return nil, false, err
			}
			cells = append(cells, c...)
		}
		return Cells(cells...), true, nil
	default:
		c, err := toCells(val)
		if err != nil {
			return nil, false, err
		}
		return Cells(c...), true, nil
	}
}

func toCells(val interface{}) ([]uint32, error) {
	var u uint64
	switch x := val.(type) {
	case int:
		if x < 0 {
			return nil, fmt.Errorf("negative value %d", x)
		}
		u = uint64(x)
	case int64:
		if x < 0 {
			return nil, fmt.Errorf("negative value %d", x)
		}
		u = uint64(x)
	case uint64:
		u = x
	default:
		return nil, fmt.Errorf("unsupported value %v (%T)", val, val)
	}
	if u > 0xffffffff {
		return []uint32{uint32(u >> 32), uint32(u)}, nil
	}
	return []uint32{uint32(u)}, nil
}
