// Package container provides the container runtime capabilities that back
// dockhost hosts.
//
// # Overview
//
// The package defines one interface and one production implementation:
//
//   - Runtime: the narrow set of runtime calls dockhost needs (list, run,
//     inspect, exec, archive transfer, remove)
//   - Docker: Runtime on top of the Docker Engine API
//
// Ownership is recorded only in container labels. Every container created
// through dockhost carries LabelManagedBy, LabelRun and LabelHost, and List
// filters on label equality.
//
// # Example
//
//	rt, err := container.NewDocker(container.WithPull(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	list, err := rt.List(ctx, container.Labels("4242", "web1"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, c := range list {
//	    fmt.Println(c.ID, c.Labels[container.LabelHost])
//	}
package container
