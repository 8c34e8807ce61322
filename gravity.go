package swarm

// GravityTimer is the loop that pulls every bot of a Manager toward the
// ground. It runs on the scheduler of the Manager and works on a snapshot of
// the registry, so bots may be created and removed while it runs.
type GravityTimer struct {
	manager *Manager
}

// Run moves every connected bot one gravity step down.
func (g *GravityTimer) Run() {
	for _, b := range g.manager.Bots() {
		b.FallDown()
	}
}
