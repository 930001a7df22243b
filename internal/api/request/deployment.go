package request

// CreateDeployment is the body of a deploy request. Field names follow the
// agent payload so automation can pass them through unchanged.
type CreateDeployment struct {
	Name          string            `json:"name" validate:"required,max=200"`
	DockerCompose string            `json:"dockerCompose" validate:"required"`
	EnvVars       map[string]string `json:"envVars" validate:"omitempty,dive,keys,required,max=256,endkeys,max=4096"`
}

// DeploymentStatus is an agent's progress report for a deployment.
type DeploymentStatus struct {
	Status string          `json:"status" validate:"required,oneof=deploying deployed failed"`
	Logs   []DeploymentLog `json:"logs" validate:"omitempty,dive"`
}

type DeploymentLog struct {
	Level   string `json:"level" validate:"omitempty,max=16"`
	Message string `json:"message" validate:"required"`
}
