package service

// Sample is a canned requirement offered to users who do not bring their own.
type Sample struct {
	Title       string `json:"title"`
	Requirement string `json:"requirement"`
}

var samples = []Sample{
	{
		Title:       "Highly available web application",
		Requirement: "Design a highly available web application with an Application Load Balancer, EC2 instances in an Auto Scaling group across two Availability Zones, and an RDS database with a standby replica.",
	},
	{
		Title:       "Microservices on containers",
		Requirement: "Design a microservices architecture on Amazon ECS with Fargate, an API Gateway in front, service discovery, and a DynamoDB table per service.",
	},
	{
		Title:       "Data processing pipeline",
		Requirement: "Design a data processing pipeline that ingests events with Kinesis Data Streams, transforms them with Lambda, stores raw and curated data in S3, and queries it with Athena.",
	},
	{
		Title:       "Serverless backend",
		Requirement: "Design a serverless backend with API Gateway, Lambda functions, DynamoDB, and Cognito for user authentication.",
	},
	{
		Title:       "Disaster recovery",
		Requirement: "Design a pilot-light disaster recovery setup that replicates an application and its RDS database from one AWS Region to another, with Route 53 failover.",
	},
}

// Samples returns the built-in sample requirements.
func Samples() []Sample {
	out := make([]Sample, len(samples))
	copy(out, samples)
	return out
}
